//go:build !cgo

package vst2

// Open always fails without cgo.
func Open(path string) (Library, error) {
	return nil, ErrUnsupported
}
