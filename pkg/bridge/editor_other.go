//go:build !windows

package bridge

// NativeEditors returns nil: embedding editors is only implemented for
// Win32, other builds report the editor as unsupported.
func NativeEditors() EditorFactory {
	return nil
}
