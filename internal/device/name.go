package device

import "strings"

// BackendKind is the closed set of backend selectors a device name can
// resolve to. New backends are added here, not via an open plugin
// mechanism.
type BackendKind string

const (
	BackendTape BackendKind = "tape"
	BackendNull BackendKind = "null"
	BackendFile BackendKind = "file"
	BackendRait BackendKind = "rait"
)

// DefaultBackend is selected when a device name carries no "backend:"
// prefix.
const DefaultBackend = BackendTape

// ParseName splits a device URI-like name into its backend selector and
// path, per the grammar `[backend ":"] path`. An absent prefix defaults
// to BackendTape. The path is returned verbatim, including any
// brace-expansion syntax a rait: name may carry.
func ParseName(name string) (BackendKind, string) {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		prefix := name[:i]
		switch BackendKind(prefix) {
		case BackendTape, BackendNull, BackendFile, BackendRait:
			return BackendKind(prefix), name[i+1:]
		}
	}
	return DefaultBackend, name
}
