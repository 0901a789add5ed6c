//go:build windows

package hotkey

import (
	"fmt"
	"runtime"
	"syscall"
	"time"
	"unsafe"
)

// RegisterHotKey modifier flags.
const (
	modAlt      = 0x0001
	modControl  = 0x0002
	modShift    = 0x0004
	modWin      = 0x0008
	modNoRepeat = 0x4000
)

const (
	wmHotkey      = 0x0312
	pmRemove      = 0x0001
	keyDownMask   = 0x8000
	releasePoll   = 15 * time.Millisecond
	registerReply = 2 * time.Second
)

var (
	user32               = syscall.NewLazyDLL("user32.dll")
	procRegisterHotKey   = user32.NewProc("RegisterHotKey")
	procUnregisterHotKey = user32.NewProc("UnregisterHotKey")
	procPeekMessageW     = user32.NewProc("PeekMessageW")
	procGetAsyncKeyState = user32.NewProc("GetAsyncKeyState")
)

type msg struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	PtX     int32
	PtY     int32
}

type regRequest struct {
	mod      uint32
	vk       uint32
	callback func(bool)
	reply    chan error
}

type hotkeyEntry struct {
	vk       uint32
	callback func(bool)
}

type windowsManager struct {
	regCh chan regRequest
	stop  chan struct{}
}

// New creates a new Windows hotkey manager. RegisterHotKey and the message
// loop that receives WM_HOTKEY must share an OS thread, so all registration
// requests are funneled to the loop goroutine.
func New() (Manager, error) {
	mgr := &windowsManager{
		regCh: make(chan regRequest),
		stop:  make(chan struct{}),
	}

	go mgr.messageLoop()

	return mgr, nil
}

// winVirtualKey maps a parsed key name to a Windows virtual-key code.
func winVirtualKey(key string) (uint32, bool) {
	if len(key) == 1 {
		c := key[0]
		if c >= 'a' && c <= 'z' {
			return uint32(c - 'a' + 0x41), true
		}
		if c >= '0' && c <= '9' {
			return uint32(c), true
		}
	}
	switch key {
	case "space":
		return 0x20, true
	case "tab":
		return 0x09, true
	case "return", "enter":
		return 0x0D, true
	case "escape", "esc":
		return 0x1B, true
	case "f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8", "f9", "f10", "f11", "f12":
		var n uint32
		fmt.Sscanf(key, "f%d", &n)
		return 0x70 + n - 1, true
	}
	return 0, false
}

func (m *windowsManager) Register(accel string, callback func(pressed bool)) error {
	a, err := ParseAccel(accel)
	if err != nil {
		return err
	}

	vk, ok := winVirtualKey(a.Key)
	if !ok {
		return fmt.Errorf("unsupported key %q in accelerator %q", a.Key, accel)
	}

	// modNoRepeat keeps a held key from generating repeated WM_HOTKEY
	// messages, so the callback sees one press per physical press.
	mod := uint32(modNoRepeat)
	if a.Alt {
		mod |= modAlt
	}
	if a.Ctrl {
		mod |= modControl
	}
	if a.Shift {
		mod |= modShift
	}
	if a.Meta {
		mod |= modWin
	}

	req := regRequest{mod: mod, vk: vk, callback: callback, reply: make(chan error, 1)}
	select {
	case m.regCh <- req:
	case <-m.stop:
		return fmt.Errorf("hotkey manager closed")
	}

	select {
	case err := <-req.reply:
		if err != nil {
			return fmt.Errorf("registering accelerator %q: %w", accel, err)
		}
		return nil
	case <-time.After(registerReply):
		return fmt.Errorf("timeout registering accelerator %q", accel)
	}
}

func (m *windowsManager) messageLoop() {
	// WM_HOTKEY is posted to the thread that called RegisterHotKey, so the
	// registration calls and the message pump must stay on one OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	entries := make(map[int]hotkeyEntry)
	nextID := 1

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var message msg
	for {
		select {
		case <-m.stop:
			for id := range entries {
				procUnregisterHotKey.Call(0, uintptr(id))
			}
			return
		case req := <-m.regCh:
			id := nextID
			r, _, _ := procRegisterHotKey.Call(0, uintptr(id), uintptr(req.mod), uintptr(req.vk))
			if r == 0 {
				req.reply <- fmt.Errorf("RegisterHotKey failed")
				continue
			}
			nextID++
			entries[id] = hotkeyEntry{vk: req.vk, callback: req.callback}
			req.reply <- nil
		case <-ticker.C:
			for {
				r, _, _ := procPeekMessageW.Call(uintptr(unsafe.Pointer(&message)), 0, 0, 0, pmRemove)
				if r == 0 {
					break
				}
				if message.Message != wmHotkey {
					continue
				}
				entry, ok := entries[int(message.WParam)]
				if !ok {
					continue
				}
				entry.callback(true)
				go watchRelease(entry.vk, entry.callback, m.stop)
			}
		}
	}
}

// watchRelease polls GetAsyncKeyState until the key goes up, then reports
// the release. WM_HOTKEY only fires on press.
func watchRelease(vk uint32, callback func(bool), stop <-chan struct{}) {
	ticker := time.NewTicker(releasePoll)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			state, _, _ := procGetAsyncKeyState.Call(uintptr(vk))
			if state&keyDownMask == 0 {
				callback(false)
				return
			}
		}
	}
}

func (m *windowsManager) Unregister(accel string) error {
	// TODO: route UnregisterHotKey for a single accelerator through the
	// message loop thread; Close currently unregisters everything.
	return nil
}

func (m *windowsManager) Close() error {
	close(m.stop)
	return nil
}
