// Command voicekey runs local voice dictation from the system tray: hold a
// hotkey, speak, release, and the transcribed text is typed into the focused
// application.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voicekey: %v\n", err)
		os.Exit(1)
	}
}
