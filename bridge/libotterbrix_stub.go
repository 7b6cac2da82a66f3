//go:build !cgo || !otterbrix

package bridge

// Load reports ErrNativeUnavailable: this binary was built without the
// otterbrix tag or without cgo.
func Load() (Native, error) {
	return nil, ErrNativeUnavailable
}

// Available reports whether libotterbrix is linked.
func Available() bool { return false }
