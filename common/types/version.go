// Package types defines the types shared by the shardsync components.
package types

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Version identifies a single immutable checkpoint. Versions are issued
// monotonically by the training side and never reused.
type Version int64

// NoVersion is the sentinel used where a version number means "disabled":
// backlog mode and the retention horizon both treat -1 as off.
const NoVersion Version = -1

// namePrefix prefixes version numbers in the names advertised by transports.
const namePrefix = "v"

func (v Version) String() string {
	return strconv.FormatInt(int64(v), 10)
}

// Name returns the transport-facing name of the version, e.g. "v42".
func (v Version) Name() string {
	return namePrefix + strconv.FormatInt(int64(v), 10)
}

func (v Version) Field() zap.Field {
	return zap.Int64("version", int64(v))
}

// ParseVersionName parses a name such as "v42" back into a Version.
func ParseVersionName(name string) (Version, error) {
	trimmed, found := strings.CutPrefix(name, namePrefix)
	if !found {
		return NoVersion, fmt.Errorf("version name %q lacks %q prefix", name, namePrefix)
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return NoVersion, fmt.Errorf("parse version name %q: %w", name, err)
	}
	if n < 0 {
		return NoVersion, fmt.Errorf("version name %q is negative", name)
	}
	return Version(n), nil
}
