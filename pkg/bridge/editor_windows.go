package bridge

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/JamesHovious/w32"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

const editorClassName = "VSTBridgeEditor"

// window border allowance added to the plugin's rectangle
const (
	borderWidth  = 20
	borderHeight = 42
)

var registerClass sync.Once

type nativeEditors struct{}

// NativeEditors returns the factory creating top level Win32 windows.
func NativeEditors() EditorFactory {
	return nativeEditors{}
}

func (nativeEditors) OpenEditor(title string, _ uintptr, size wire.Rect) (Editor, error) {
	hInstance := w32.GetModuleHandle("")
	className := syscall.StringToUTF16Ptr(editorClassName)

	registerClass.Do(func() {
		var wcex w32.WNDCLASSEX
		wcex.Size = uint32(unsafe.Sizeof(wcex))
		wcex.Style = w32.CS_HREDRAW | w32.CS_VREDRAW
		wcex.WndProc = syscall.NewCallback(editorWndProc)
		wcex.Instance = hInstance
		wcex.Icon = w32.LoadIcon(hInstance, makeIntResource(w32.IDI_APPLICATION))
		wcex.Cursor = w32.LoadCursor(0, makeIntResource(w32.IDC_ARROW))
		wcex.Background = w32.COLOR_WINDOW + 11
		wcex.ClassName = className
		wcex.IconSm = w32.LoadIcon(hInstance, makeIntResource(w32.IDI_APPLICATION))
		w32.RegisterClassEx(&wcex)
	})

	width := int(size.Right-size.Left) + borderWidth
	height := int(size.Bottom-size.Top) + borderHeight
	hwnd := w32.CreateWindowEx(
		0, className, syscall.StringToUTF16Ptr(title),
		w32.WS_OVERLAPPEDWINDOW|w32.WS_VISIBLE,
		w32.CW_USEDEFAULT, w32.CW_USEDEFAULT, width, height, 0, 0, hInstance, nil)
	if hwnd == 0 {
		return nil, fmt.Errorf("failed to create editor window %q", title)
	}
	return &nativeEditor{hwnd: hwnd}, nil
}

type nativeEditor struct {
	hwnd w32.HWND
}

func (e *nativeEditor) Handle() uintptr { return uintptr(e.hwnd) }

// HandlePendingInput does nothing, the main context pumps window messages.
func (e *nativeEditor) HandlePendingInput() {}

func (e *nativeEditor) Close() error {
	if !w32.DestroyWindow(e.hwnd) {
		return fmt.Errorf("failed to destroy editor window")
	}
	return nil
}

func editorWndProc(hWnd w32.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	if msg == w32.WM_CLOSE {
		// the host closes editors through effEditClose
		w32.ShowWindow(hWnd, w32.SW_HIDE)
		return 0
	}
	return w32.DefWindowProc(hWnd, msg, wParam, lParam)
}

func makeIntResource(id uint16) *uint16 {
	return (*uint16)(unsafe.Pointer(uintptr(id)))
}
