//go:build windows

package inject

import (
	"context"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

// platformPaste implements clipboard-paste strategy for Windows
func platformPaste(ctx context.Context, text string) error {
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
	time.Sleep(80 * time.Millisecond)

	// Send Ctrl+V
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return fmt.Errorf("keyboard unavailable: %w", err)
	}
	kb.HasCTRL(true)
	kb.SetKeys(keybd_event.VK_V)
	if err := kb.Launching(); err != nil {
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

// platformType implements keyboard typing for Windows
// TODO: Implement using Win32 SendInput API
func platformType(ctx context.Context, text string) error {
	return fmt.Errorf("type not yet implemented on Windows")
}
