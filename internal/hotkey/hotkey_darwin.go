//go:build darwin

package hotkey

/*
#cgo LDFLAGS: -framework Carbon
#include <Carbon/Carbon.h>

// Forward declaration for Go callback
extern void goHotkeyCallback(int pressed);

// Event handler for hotkeys
static OSStatus hotkeyHandler(EventHandlerCallRef nextHandler, EventRef theEvent, void* userData) {
    EventHotKeyID hkRef;
    GetEventParameter(theEvent, kEventParamDirectObject, typeEventHotKeyID, NULL, sizeof(hkRef), NULL, &hkRef);

    UInt32 eventKind = GetEventKind(theEvent);
    int pressed = (eventKind == kEventHotKeyPressed) ? 1 : 0;

    goHotkeyCallback(pressed);

    return noErr;
}

// Register hotkey with Carbon
static int registerHotkey(UInt32 keyCode, UInt32 modifiers) {
    EventTypeSpec eventTypes[2];
    eventTypes[0].eventClass = kEventClassKeyboard;
    eventTypes[0].eventKind = kEventHotKeyPressed;
    eventTypes[1].eventClass = kEventClassKeyboard;
    eventTypes[1].eventKind = kEventHotKeyReleased;

    EventHandlerUPP handlerUPP = NewEventHandlerUPP(hotkeyHandler);
    InstallApplicationEventHandler(handlerUPP, 2, eventTypes, NULL, NULL);

    EventHotKeyRef hotKeyRef;
    EventHotKeyID hotKeyID;
    hotKeyID.signature = 'htk1';
    hotKeyID.id = 1;

    OSStatus status = RegisterEventHotKey(keyCode, modifiers, hotKeyID, GetApplicationEventTarget(), 0, &hotKeyRef);

    return (status == noErr) ? 1 : 0;
}
*/
import "C"

import (
	"fmt"
)

type darwinManager struct {
	callback func(bool)
}

var globalManager *darwinManager

// New creates a new macOS hotkey manager using Carbon
func New() (Manager, error) {
	mgr := &darwinManager{}
	return mgr, nil
}

//export goHotkeyCallback
func goHotkeyCallback(pressed C.int) {
	if globalManager != nil && globalManager.callback != nil {
		globalManager.callback(pressed == 1)
	}
}

// Carbon virtual keycodes for the ANSI layout.
var darwinKeycodes = map[string]uint32{
	"a": 0, "s": 1, "d": 2, "f": 3, "h": 4, "g": 5, "z": 6, "x": 7,
	"c": 8, "v": 9, "b": 11, "q": 12, "w": 13, "e": 14, "r": 15,
	"y": 16, "t": 17, "1": 18, "2": 19, "3": 20, "4": 21, "6": 22,
	"5": 23, "9": 25, "7": 26, "8": 28, "0": 29, "o": 31, "u": 32,
	"i": 34, "p": 35, "return": 36, "enter": 36, "l": 37, "j": 38,
	"k": 40, "n": 45, "m": 46, "tab": 48, "space": 49, "escape": 53,
	"esc": 53,
	"f1":  0x7A, "f2": 0x78, "f3": 0x63, "f4": 0x76, "f5": 0x60,
	"f6": 0x61, "f7": 0x62, "f8": 0x64, "f9": 0x65, "f10": 0x6D,
	"f11": 0x67, "f12": 0x6F,
}

func (m *darwinManager) Register(accel string, callback func(pressed bool)) error {
	a, err := ParseAccel(accel)
	if err != nil {
		return err
	}
	keyCode, ok := darwinKeycodes[a.Key]
	if !ok {
		return fmt.Errorf("unsupported key %q in accelerator %q", a.Key, accel)
	}

	// Carbon modifier masks: cmdKey=0x100, shiftKey=0x200, optionKey=0x800,
	// controlKey=0x1000.
	var modifiers uint32
	if a.Meta {
		modifiers |= 0x100
	}
	if a.Shift {
		modifiers |= 0x200
	}
	if a.Alt {
		modifiers |= 0x800
	}
	if a.Ctrl {
		modifiers |= 0x1000
	}

	m.callback = callback
	globalManager = m

	ret := C.registerHotkey(C.UInt32(keyCode), C.UInt32(modifiers))
	if ret == 0 {
		return fmt.Errorf("failed to register hotkey %q", accel)
	}

	return nil
}

func (m *darwinManager) Unregister(accel string) error {
	// TODO: UnregisterEventHotKey implementation
	return nil
}

func (m *darwinManager) Close() error {
	globalManager = nil
	return nil
}