package dispatcher

import _ "embed"

// embeddedDispatcherBytecode is the compiled dispatcher eBPF object.
// A release build replaces assets/dispatcher.o with the real compiled
// object before `go build`; WithDispatcherBytecode overrides it at
// runtime for testing or for shipping multiple dispatcher variants
// from one binary.
//
//go:embed assets/dispatcher.o
var embeddedDispatcherBytecode []byte
