package agent

import (
	"regexp"

	"github.com/godbus/dbus/v5"
)

// busNameElement matches one element of a bus name: unlike interface
// names, bus name elements may contain hyphens.
var busNameElement = regexp.MustCompile(`^[A-Za-z_-][A-Za-z0-9_-]*$`)

// validateBusName reports whether name is a syntactically valid D-Bus
// bus name (unique, starting with ':', or well-known, dot-separated).
// godbus/dbus/v5 exposes no public validator for this (only
// dbus.ObjectPath.IsValid exists), so this is a small hand-rolled check
// per the D-Bus specification's bus name grammar.
func validateBusName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	if name[0] == ':' {
		// Unique connection name: ":" 1*(element ".") element, where
		// elements here may start with a digit.
		rest := name[1:]
		return rest != "" && allDotElements(rest, true)
	}
	if len(name) < 1 {
		return false
	}
	return allDotElements(name, false)
}

func allDotElements(s string, allowLeadingDigit bool) bool {
	elems := splitDot(s)
	if len(elems) < 2 {
		return false
	}
	for _, e := range elems {
		if e == "" {
			return false
		}
		if allowLeadingDigit {
			if !uniqueNameElement.MatchString(e) {
				return false
			}
		} else if !busNameElement.MatchString(e) {
			return false
		}
	}
	return true
}

var uniqueNameElement = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

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

// validateObjectPath reports whether path is a syntactically valid
// D-Bus object path, delegating to godbus's own IsValid check.
func validateObjectPath(path dbus.ObjectPath) bool {
	return path.IsValid()
}
