//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation -framework Cocoa
#import <AVFoundation/AVFoundation.h>
#import <Cocoa/Cocoa.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}

int checkAccessibilityPermission() {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @YES};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

import (
	"errors"

	"github.com/rs/zerolog"
)

const (
	PermissionNotDetermined = 0
	PermissionRestricted    = 1
	PermissionDenied        = 2
	PermissionAuthorized    = 3
)

var (
	ErrMicrophoneDenied    = errors.New("microphone permission not granted")
	ErrAccessibilityDenied = errors.New("accessibility permission not granted")
)

// CheckMicrophone returns the current microphone permission status
func CheckMicrophone() (int, error) {
	status := int(C.checkMicrophonePermission())
	return status, nil
}

// RequestMicrophone triggers the system microphone permission dialog
func RequestMicrophone() error {
	C.requestMicrophonePermission()
	return nil
}

// CheckAccessibility checks if the app has accessibility permissions (needed for hotkeys)
func CheckAccessibility() (bool, error) {
	status := int(C.checkAccessibilityPermission())
	return status == 1, nil
}

// PromptAccessibility prompts for accessibility permissions
func PromptAccessibility() error {
	// Prompt shown by checkAccessibilityPermission with kAXTrustedCheckOptionPrompt
	return nil
}

// EnsurePermissions checks and requests all required permissions. The first
// run typically fails while the system dialogs are pending; the user answers
// them and relaunches.
func EnsurePermissions(log zerolog.Logger) error {
	micStatus, _ := CheckMicrophone()
	if micStatus != PermissionAuthorized {
		log.Warn().Int("status", micStatus).Msg("Microphone permission required")
		RequestMicrophone()
		return ErrMicrophoneDenied
	}

	axGranted, _ := CheckAccessibility()
	if !axGranted {
		log.Warn().
			Str("settings", "System Settings > Privacy & Security > Accessibility").
			Msg("Accessibility permission required for hotkeys")
		PromptAccessibility()
		return ErrAccessibilityDenied
	}

	return nil
}
