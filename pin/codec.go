// Package pin encodes and decodes the filenames used to pin extension
// programs inside a revision directory.
package pin

import (
	"fmt"
	"strconv"
	"strings"

	dispatcherrors "xdp-dispatcher/errors"
)

// ExtensionAttrs identifies one extension slot within a revision.
type ExtensionAttrs struct {
	Priority    uint8
	EbpfID      string
	ProgramName string
	// Loaded is in-memory only: true if discovered from an existing pin,
	// false if freshly provided in the current install call.
	Loaded bool
}

const prefix = "extension_"

// Encode returns the deterministic pin filename for attrs. Loaded is not
// part of the encoding; it is recovered as true by Decode since any name
// read back from disk was, by definition, already pinned.
func Encode(attrs ExtensionAttrs) string {
	return fmt.Sprintf("%s%d_%s_%s", prefix, attrs.Priority, attrs.EbpfID, attrs.ProgramName)
}

// Decode parses a pin filename produced by Encode. It returns ok=false for
// any name that does not match the expected shape rather than an error:
// a revision directory may contain entries this codec does not own (link_*,
// dispatcher_pin) and those must be skipped silently, not treated as
// failures.
func Decode(name string) (ExtensionAttrs, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return ExtensionAttrs{}, false
	}

	// Split on the first two underscores only, so program_name may itself
	// contain underscores.
	first := strings.IndexByte(rest, '_')
	if first < 0 {
		return ExtensionAttrs{}, false
	}
	second := strings.IndexByte(rest[first+1:], '_')
	if second < 0 {
		return ExtensionAttrs{}, false
	}
	second += first + 1

	priorityStr := rest[:first]
	ebpfID := rest[first+1 : second]
	programName := rest[second+1:]

	if ebpfID == "" || programName == "" {
		return ExtensionAttrs{}, false
	}

	priority, err := strconv.ParseUint(priorityStr, 10, 8)
	if err != nil {
		return ExtensionAttrs{}, false
	}

	return ExtensionAttrs{
		Priority:    uint8(priority),
		EbpfID:      ebpfID,
		ProgramName: programName,
		Loaded:      true,
	}, true
}

// Validate checks the reserved-character constraints Encode/Decode rely on.
// ebpf_id must not contain underscores (the decoder's two-underscore split
// would otherwise misparse it) or slashes (it becomes a path component);
// program_name must not contain slashes.
func Validate(attrs ExtensionAttrs) error {
	if strings.Contains(attrs.EbpfID, "_") {
		return dispatcherrors.ErrEbpfIDContainsUnderscore
	}
	if strings.Contains(attrs.EbpfID, "/") {
		return dispatcherrors.ErrEbpfIDContainsSlash
	}
	if strings.Contains(attrs.ProgramName, "/") {
		return dispatcherrors.ErrProgramNameContainsSlash
	}
	return nil
}
