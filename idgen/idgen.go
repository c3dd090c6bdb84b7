// Package idgen generates caller-side ebpf_id values for ProgramSets.
//
// The pin-name codec (see the pin package) splits a revision directory
// entry on the first two underscores, which means an ebpf_id must not
// itself contain an underscore or a slash. A UUID's hyphenated form
// already satisfies that, but pulling in a UUID library for a single
// random-token generator would be the only consumer of that dependency
// in the whole tree, so this stays on crypto/rand and a restricted
// alphabet instead. See DESIGN.md for the full reasoning.
package idgen

import (
	"crypto/rand"
	"fmt"
)

// alphabet excludes '_' and '/' by construction, satisfying the pin-name
// codec's reserved-character constraint without a validation pass.
const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// defaultLength gives 16 characters over the 36-symbol alphabet, about
// 82 bits, which is ample for a per-process, per-install token that
// only needs to avoid collisions within one dispatcher revision.
const defaultLength = 16

// New returns a random ebpf_id built from a restricted alphabet that
// never needs escaping by the pin-name codec.
func New() (string, error) {
	return NewWithLength(defaultLength)
}

// NewWithLength returns a random ebpf_id of the given length.
func NewWithLength(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("idgen: length must be positive, got %d", n)
	}

	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("idgen: read random bytes: %w", err)
	}

	out := make([]byte, n)
	for i, b := range raw {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
