package dispatcher

import (
	"os"
	"path/filepath"

	"xdp-dispatcher/logging"
	"xdp-dispatcher/pin"
)

// extensionEntry pairs a decoded pin name with the loaded program it
// names.
type extensionEntry struct {
	attrs pin.ExtensionAttrs
	prog  kernelProgram
}

// discoverExtensions enumerates a revision directory and reopens every
// entry that decodes as an extension pin. Entries that fail to decode
// (link_*, dispatcher_pin, foreign files) or fail to reopen are
// skipped rather than treated as fatal: a racing external deletion of
// one pin should not abort discovery of the rest.
func discoverExtensions(loader kernelLoader, extDir string) ([]extensionEntry, error) {
	entries, err := os.ReadDir(extDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []extensionEntry
	for _, e := range entries {
		attrs, ok := pin.Decode(e.Name())
		if !ok {
			continue
		}

		prog, err := loader.LoadPinnedExtension(filepath.Join(extDir, e.Name()))
		if err != nil {
			logging.Default().Warn("skipping extension pin that failed to reopen",
				"path", filepath.Join(extDir, e.Name()), "error", err)
			continue
		}

		out = append(out, extensionEntry{attrs: attrs, prog: prog})
	}

	return out, nil
}
