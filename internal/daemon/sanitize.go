// Package daemon implements the host-side republishing engine: on each
// Create event it allocates a dedicated bus connection, exports a
// synthetic StatusNotifierItem (and optionally DBusMenu) on it, and
// registers that connection's unique name with the host's real
// StatusNotifierWatcher. Subsequent events mutate the icon's cached
// state and emit the matching SNI signal; Activate/Scroll/ContextMenu
// calls received on the exported object are captured and serialized
// back onto the outbound stream as ServerEvents.
package daemon

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/qubesos/sni-bridge/internal/busnames"
)

// interfaceFragment matches one dot-separated element of a D-Bus
// interface name: must start with a letter or underscore, alphanumeric
// and underscore thereafter (the D-Bus specification's interface-name
// element grammar; unlike bus names, no hyphens are permitted).
var interfaceFragment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// isValidInterfaceName reports whether name is a syntactically valid
// D-Bus interface name: at least two dot-separated elements, each a
// valid interfaceFragment, total length at most 255.
//
// godbus/dbus/v5 exposes no exported validator for interface names
// (only dbus.ObjectPath.IsValid); no other pack dependency implements
// the D-Bus name grammar, so this is a small hand-rolled check.
func isValidInterfaceName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	elems := splitDot(name)
	if len(elems) < 2 {
		return false
	}
	for _, e := range elems {
		if !interfaceFragment.MatchString(e) {
			return false
		}
	}
	return true
}

func splitDot(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// SanitizeAppID namespaces a guest-supplied app id per spec.md §3/§4.5:
// prepend AppIDPrefix; if the result is a valid D-Bus interface name,
// use it as-is. Otherwise the app id is untrusted input that might
// break the bus's naming grammar, so it's replaced by HashedAppIDPrefix
// plus the lowercase hex SHA-256 digest of the *original* candidate
// (AppIDPrefix+raw, matching sni-daemon.rs, not the raw appID alone).
func SanitizeAppID(appID string) string {
	candidate := busnames.AppIDPrefix + appID
	if isValidInterfaceName(candidate) {
		return candidate
	}
	sum := sha256.Sum256([]byte(candidate))
	return busnames.HashedAppIDPrefix + hex.EncodeToString(sum[:])
}
