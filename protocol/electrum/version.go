package electrum

import (
	"strconv"
	"strings"
)

// version is a dotted Electrum protocol version, held as a comparable
// integer (major*1e6 + minor*1e3 + patch) so negotiation reduces to a
// pair of min/max clamps. Clients routinely offer versions this server
// has never heard of ("1.5", "2.0"); the clamp against the server's
// own range handles those without a lookup table, which is why this is
// numeric rather than an enum of known releases.
type version int

// v0_0 is the invalid/unset sentinel: no real protocol version is 0.0.
const v0_0 version = 0

func makeVersion(major, minor, patch int) version {
	return version(major*1_000_000 + minor*1_000 + patch)
}

// defaultVersion is negotiated when a client omits
// client_protocol_version entirely.
var defaultVersion = makeVersion(1, 4, 0)

// serverMinVersion and serverMaxVersion bound what this gateway will
// ever negotiate down to or up to. serverMaxVersion stops at 1.4.2;
// the 1.5/2.0 proposals add methods this gateway's table does not
// implement.
var (
	serverMinVersion = makeVersion(1, 1, 0)
	serverMaxVersion = makeVersion(1, 4, 2)
)

// versionFromString parses a dotted version string of one to three
// numeric components ("1.4", "1.4.2"), returning v0_0 if any component
// is not a plain decimal or the string is empty.
func versionFromString(s string) version {
	parts := strings.Split(s, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return v0_0
	}
	var comps [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 999 || (len(p) > 1 && p[0] == '0') {
			return v0_0
		}
		comps[i] = n
	}
	return makeVersion(comps[0], comps[1], comps[2])
}

func versionToString(v version) string {
	major := int(v) / 1_000_000
	minor := int(v) / 1_000 % 1_000
	patch := int(v) % 1_000
	if patch == 0 {
		return strconv.Itoa(major) + "." + strconv.Itoa(minor)
	}
	return strconv.Itoa(major) + "." + strconv.Itoa(minor) + "." + strconv.Itoa(patch)
}

// maxVersion reports the higher of two versions.
func maxVersion(a, b version) version {
	if a > b {
		return a
	}
	return b
}

// minVersion reports the lower of two versions.
func minVersion(a, b version) version {
	if a < b {
		return a
	}
	return b
}
