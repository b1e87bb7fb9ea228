package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/scomans/dev-console-sub000/protocol"
)

// ErrVersionMismatch is returned by CheckVersion when the daemon runs a
// different release than the client.
var ErrVersionMismatch = errors.New("daemon version mismatch")

// ParseVersion parses "X.Y.Z" with an optional "v" prefix. A pre-release
// or build suffix on the patch number is ignored.
func ParseVersion(v string) (major, minor, patch int, err error) {
	v = strings.TrimPrefix(strings.TrimPrefix(v, "v"), "V")

	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid version format: %q (expected X.Y.Z)", v)
	}
	if i := strings.IndexAny(parts[2], "-+"); i >= 0 {
		parts[2] = parts[2][:i]
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("invalid version component %q in %q", p, v)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}

// CompareVersions returns -1, 0 or 1 as a is older than, equal to or newer
// than b.
func CompareVersions(a, b string) (int, error) {
	aMajor, aMinor, aPatch, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	bMajor, bMinor, bPatch, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}

	for _, d := range [][2]int{{aMajor, bMajor}, {aMinor, bMinor}, {aPatch, bPatch}} {
		switch {
		case d[0] < d[1]:
			return -1, nil
		case d[0] > d[1]:
			return 1, nil
		}
	}
	return 0, nil
}

// VersionsMatch reports whether a and b are the same release. Unparsable
// versions, such as development builds, only match themselves.
func VersionsMatch(a, b string) bool {
	cmp, err := CompareVersions(a, b)
	if err != nil {
		return a == b
	}
	return cmp == 0
}

// CheckVersion asks the daemon for its INFO and compares its version with
// clientVersion. The info is returned even on a mismatch.
func CheckVersion(conn *Conn, clientVersion string) (protocol.DaemonInfo, error) {
	var info protocol.DaemonInfo
	if err := conn.Request(protocol.VerbInfo).JSONInto(&info); err != nil {
		return info, fmt.Errorf("failed to get daemon version: %w", err)
	}
	if !VersionsMatch(clientVersion, info.Version) {
		return info, fmt.Errorf("%w: client=%s daemon=%s", ErrVersionMismatch, clientVersion, info.Version)
	}
	return info, nil
}
