package shares

import "fmt"

// SegwitActivationVersion is the first share version that carries the segwit
// sub-structure inside ShareInfo.
const SegwitActivationVersion = 17

// versionParams holds the per-version constants. Versions differ only in
// constants, never in layout; a single codec serves every entry.
type versionParams struct {
	// MaxNewTxsSize bounds the total serialized size of the newly
	// introduced transaction hashes a share may carry.
	MaxNewTxsSize int
}

var versionTable = map[uint64]versionParams{
	16: {MaxNewTxsSize: 50000},
	17: {MaxNewTxsSize: 100000},
}

// UnknownVersionError is returned when a share buffer declares a version
// that is not in the registry.
type UnknownVersionError struct {
	Version uint64
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown share version %d", e.Version)
}

// IsSegwitActivated reports whether the segwit sub-structure is parsed for
// the given share version.
func IsSegwitActivated(version uint64) bool {
	return version >= SegwitActivationVersion
}

func lookupVersion(version uint64) (versionParams, error) {
	vp, ok := versionTable[version]
	if !ok {
		return versionParams{}, &UnknownVersionError{Version: version}
	}
	return vp, nil
}
