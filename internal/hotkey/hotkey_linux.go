//go:build linux

package hotkey

/*
#cgo pkg-config: x11 xtst
#include <X11/Xlib.h>
#include <X11/keysym.h>
#include <X11/extensions/XTest.h>
#include <stdlib.h>

Display* displayPtr = NULL;

static int ensureDisplay() {
    if (displayPtr == NULL) {
        displayPtr = XOpenDisplay(NULL);
    }
    return displayPtr != NULL;
}

int keysymToKeycode(unsigned long keysym) {
    if (!ensureDisplay()) return 0;
    return (int)XKeysymToKeycode(displayPtr, (KeySym)keysym);
}

int grabKey(int keycode, int modifiers) {
    if (!ensureDisplay()) return 0;

    Window root = DefaultRootWindow(displayPtr);
    XGrabKey(displayPtr, keycode, modifiers, root, False, GrabModeAsync, GrabModeAsync);
    XSelectInput(displayPtr, root, KeyPressMask | KeyReleaseMask);
    XSync(displayPtr, False);

    return 1;
}

int checkEvent(int* keycode, int* pressed) {
    if (displayPtr == NULL) return 0;

    XEvent event;
    if (XPending(displayPtr) > 0) {
        XNextEvent(displayPtr, &event);
        if (event.type == KeyPress || event.type == KeyRelease) {
            *keycode = event.xkey.keycode;
            *pressed = (event.type == KeyPress) ? 1 : 0;
            return 1;
        }
    }
    return 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
)

type linuxManager struct {
	mu        sync.Mutex
	callbacks map[int]func(bool)
	stop      chan struct{}
}

// New creates a new Linux hotkey manager using X11
func New() (Manager, error) {
	mgr := &linuxManager{
		callbacks: make(map[int]func(bool)),
		stop:      make(chan struct{}),
	}

	go mgr.eventLoop()

	return mgr, nil
}

// x11Keysym maps a parsed key name to its X11 keysym. Printable ASCII keys
// use their character code as the keysym.
func x11Keysym(key string) (uint64, bool) {
	if len(key) == 1 {
		c := key[0]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			return uint64(c), true
		}
	}
	switch key {
	case "space":
		return 0x0020, true
	case "tab":
		return 0xff09, true
	case "return", "enter":
		return 0xff0d, true
	case "escape", "esc":
		return 0xff1b, true
	case "f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8", "f9", "f10", "f11", "f12":
		var n uint64
		fmt.Sscanf(key, "f%d", &n)
		return 0xffbe + n - 1, true
	}
	return 0, false
}

func (m *linuxManager) Register(accel string, callback func(pressed bool)) error {
	a, err := ParseAccel(accel)
	if err != nil {
		return err
	}

	keysym, ok := x11Keysym(a.Key)
	if !ok {
		return fmt.Errorf("unsupported key %q in accelerator %q", a.Key, accel)
	}
	keycode := int(C.keysymToKeycode(C.ulong(keysym)))
	if keycode == 0 {
		return fmt.Errorf("no keycode for key %q", a.Key)
	}

	// X11 modifier masks: Shift=1, Control=4, Mod1 (Alt)=8, Mod4 (Super)=64.
	modifiers := 0
	if a.Shift {
		modifiers |= 1
	}
	if a.Ctrl {
		modifiers |= 4
	}
	if a.Alt {
		modifiers |= 8
	}
	if a.Meta {
		modifiers |= 64
	}

	// Register the callback before the grab so the event loop can never see
	// a grabbed key with no handler.
	m.mu.Lock()
	m.callbacks[keycode] = callback
	m.mu.Unlock()

	if C.grabKey(C.int(keycode), C.int(modifiers)) == 0 {
		m.mu.Lock()
		delete(m.callbacks, keycode)
		m.mu.Unlock()
		return fmt.Errorf("failed to grab key for accelerator %q", accel)
	}
	return nil
}

func (m *linuxManager) eventLoop() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			var keycode, pressed C.int
			if C.checkEvent(&keycode, &pressed) != 0 {
				m.mu.Lock()
				cb, ok := m.callbacks[int(keycode)]
				m.mu.Unlock()
				if ok {
					cb(pressed == 1)
				}
			}
		}
	}
}

func (m *linuxManager) Unregister(accel string) error {
	// TODO: XUngrabKey implementation
	return nil
}

func (m *linuxManager) Close() error {
	close(m.stop)
	return nil
}
