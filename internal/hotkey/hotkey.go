// Package hotkey registers global keyboard shortcuts on macOS (Carbon),
// Linux (X11) and Windows (RegisterHotKey).
package hotkey

// Manager binds accelerator strings like "Alt+Space" to callbacks.
//
// Callbacks receive pressed=true on key down and pressed=false on release;
// push-to-talk depends on seeing both edges. Callbacks run on the manager's
// event goroutine and must not block.
type Manager interface {
	Register(accel string, callback func(pressed bool)) error
	Unregister(accel string) error
	Close() error
}
