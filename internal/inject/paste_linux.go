//go:build linux

package inject

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

var (
	kbOnce sync.Once
	kb     keybd_event.KeyBonding
	kbErr  error
)

// keyBonding opens the uinput device once per process. The linux backend
// needs a settle period before the kernel delivers its first synthetic event.
func keyBonding() (keybd_event.KeyBonding, error) {
	kbOnce.Do(func() {
		kb, kbErr = keybd_event.NewKeyBonding()
		if kbErr == nil {
			time.Sleep(2 * time.Second)
		}
	})
	return kb, kbErr
}

// platformPaste implements clipboard-paste strategy for Linux
func platformPaste(ctx context.Context, text string) error {
	k, err := keyBonding()
	if err != nil {
		return fmt.Errorf("keyboard device unavailable: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Save current clipboard
	oldClip, err := clipboard.ReadAll()
	if err != nil {
		oldClip = "" // If clipboard read fails, proceed anyway
	}

	// Set new clipboard
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}

	// Small delay to ensure clipboard is set
	time.Sleep(50 * time.Millisecond)

	// Send Ctrl+V
	k.HasCTRL(true)
	k.SetKeys(keybd_event.VK_V)
	if err := k.Launching(); err != nil {
		return fmt.Errorf("failed to send paste shortcut: %w", err)
	}

	// Wait a bit for paste to complete
	time.Sleep(100 * time.Millisecond)

	// Restore old clipboard (best effort)
	// Check if user hasn't changed it in the meantime
	currentClip, _ := clipboard.ReadAll()
	if currentClip == text {
		clipboard.WriteAll(oldClip)
	}

	return nil
}

// platformType implements keyboard typing for Linux
// TODO: Implement using XTest (X11) or appropriate Wayland method
func platformType(ctx context.Context, text string) error {
	return fmt.Errorf("type not yet implemented on Linux")
}
