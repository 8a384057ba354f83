package bridge

import "github.com/n0izn0iz/vst-bridge/pkg/wire"

// Editor is a window the plugin draws its editor into. All methods are
// called on the main thread.
type Editor interface {
	// Handle is the native window handle passed to effEditOpen.
	Handle() uintptr
	// HandlePendingInput is called on every event loop tick.
	HandlePendingInput()
	Close() error
}

// EditorFactory creates editor windows. parent is the handle the host
// passed to effEditOpen and size the plugin's last reported rectangle.
type EditorFactory interface {
	OpenEditor(title string, parent uintptr, size wire.Rect) (Editor, error)
}
