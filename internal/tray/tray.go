package tray

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/petems/voicekey/internal/app"
	"github.com/petems/voicekey/internal/audio"
	"github.com/petems/voicekey/internal/config"
	"github.com/petems/voicekey/internal/logging"
	"github.com/petems/voicekey/internal/whisper"
)

const (
	levelBarSegments = 5

	// levelBoost scales RMS toward full range; conversational speech sits
	// well below digital full scale.
	levelBoost = 4

	levelRefresh = 100 * time.Millisecond
)

type UI struct {
	app     *app.App
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger

	// Menu items
	mStartStop   *systray.MenuItem
	mMode        *systray.MenuItem
	mDevices     *systray.MenuItem
	mModels      *systray.MenuItem
	mPastePrefer *systray.MenuItem
	mRunAtLogin  *systray.MenuItem

	levelMu   sync.Mutex
	levelStop chan struct{}
}

func New(application *app.App, cfg *config.Config, version, commit string, log zerolog.Logger) *UI {
	return &UI{
		app:     application,
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     log.With().Str("component", "tray").Logger(),
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

// Status update methods for the app to call

func (u *UI) SetIdle() {
	u.stopLevelMeter()
	u.updateStatus("idle")
	u.setStartStopTitle("Start Dictation")
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
	u.setStartStopTitle("Stop Dictation")
	u.startLevelMeter()
}

func (u *UI) SetProcessing() {
	u.stopLevelMeter()
	u.updateStatus("processing")
}

func (u *UI) SetError() {
	u.stopLevelMeter()
	u.updateStatus("error")
	u.setStartStopTitle("Start Dictation")
}

// Run starts the tray loop on the calling goroutine and blocks until Quit or
// a menu quit. Must run on the main thread.
func (u *UI) Run() {
	systray.Run(u.onReady, u.onExit)
}

// Quit ends the tray loop. Safe to call from any goroutine and more than once.
func (u *UI) Quit() {
	systray.Quit()
}

func (u *UI) onReady() {
	// Use emoji instead of icon - microphone with initial status
	u.updateStatus("idle")
	systray.SetTooltip("Local voice dictation")

	// Build menu
	u.mStartStop = systray.AddMenuItem("Start Dictation", "Press hotkey to dictate")
	systray.AddSeparator()

	u.mMode = systray.AddMenuItem(modeTitle(u.cfg.Mode), "Toggle between modes")
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	u.mModels = systray.AddMenuItem("Model", "Select Whisper model")
	u.buildModelMenu()

	systray.AddSeparator()
	u.mPastePrefer = systray.AddMenuItemCheckbox("Prefer Paste", "Use clipboard paste", u.cfg.Inject.PreferPaste)
	u.mRunAtLogin = systray.AddMenuItemCheckbox("Run at Login", "Start on system boot", u.cfg.RunAtLogin)

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem(fmt.Sprintf("VoiceKey %s (%s)", u.version, u.commit), "")
	mAbout.Disable()
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(mLogs, mQuit)
}

func (u *UI) handleEvents(mLogs, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			u.app.ToggleDictation()
		case <-u.mMode.ClickedCh:
			u.toggleMode()
		case <-u.mPastePrefer.ClickedCh:
			u.togglePastePrefer()
		case <-u.mRunAtLogin.ClickedCh:
			u.toggleRunAtLogin()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) buildDeviceMenu() {
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(dev.Name, "")
		if deviceChecked(dev, u.cfg.Audio.DeviceID) {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := u.app.SetDevice(deviceID); err != nil {
					u.log.Warn().Err(err).Str("device", deviceName).Msg("Device change rejected")
					continue
				}
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

// deviceChecked marks the configured device, or the system default when no
// device is configured.
func deviceChecked(dev audio.Device, configured string) bool {
	if configured != "" {
		return dev.ID == configured
	}
	return dev.Default
}

func (u *UI) buildModelMenu() {
	models := whisper.Models()
	modelItems := make(map[string]*systray.MenuItem)

	for _, model := range models {
		item := u.mModels.AddSubMenuItem(model, "")
		if model == u.cfg.Whisper.Model {
			item.Check()
		}
		modelItems[model] = item

		go func(m string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				// SetModel downloads missing models, so this can take a while.
				if err := u.app.SetModel(m); err != nil {
					u.log.Warn().Err(err).Str("model", m).Msg("Model change rejected")
					continue
				}
				for mdl, itm := range modelItems {
					if mdl != m {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str("model", m).Msg("Changed Whisper model")
			}
		}(model, item)
	}
}

func (u *UI) toggleMode() {
	oldMode := u.cfg.Mode
	newMode := config.ModePushToTalk
	if oldMode == config.ModePushToTalk {
		newMode = config.ModeToggle
	}

	u.app.SetMode(newMode)
	u.mMode.SetTitle(modeTitle(newMode))
	u.log.Info().Str("from", oldMode).Str("to", newMode).Msg("Changed mode")
}

func modeTitle(mode string) string {
	if mode == config.ModeToggle {
		return "Mode: Toggle"
	}
	return "Mode: Push-to-Talk"
}

func (u *UI) togglePastePrefer() {
	prefer := !u.cfg.Inject.PreferPaste
	if err := u.app.SetPreferPaste(prefer); err != nil {
		u.log.Error().Err(err).Msg("Failed to save paste preference")
		return
	}
	if prefer {
		u.mPastePrefer.Check()
		u.log.Info().Msg("Enabled prefer paste")
	} else {
		u.mPastePrefer.Uncheck()
		u.log.Info().Msg("Disabled prefer paste (using keyboard typing)")
	}
}

func (u *UI) toggleRunAtLogin() {
	u.cfg.RunAtLogin = !u.cfg.RunAtLogin
	if u.cfg.RunAtLogin {
		u.mRunAtLogin.Check()
		u.log.Info().Msg("Enabled run at login")
	} else {
		u.mRunAtLogin.Uncheck()
		u.log.Info().Msg("Disabled run at login")
	}
	u.cfg.Save()
	// TODO: Platform-specific login item registration
}

func (u *UI) openLogs() {
	path := logging.LogPath()

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open log file")
	}
}

func (u *UI) onExit() {
	u.stopLevelMeter()
}

// startLevelMeter refreshes the tray title with the live input level until
// stopped. No-op if a meter is already running.
func (u *UI) startLevelMeter() {
	u.levelMu.Lock()
	defer u.levelMu.Unlock()

	if u.levelStop != nil {
		return
	}
	stop := make(chan struct{})
	u.levelStop = stop

	go func() {
		ticker := time.NewTicker(levelRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				systray.SetTitle(fmt.Sprintf("🎤 🔴 %s", levelBar(u.app.Level())))
			}
		}
	}()
}

func (u *UI) stopLevelMeter() {
	u.levelMu.Lock()
	defer u.levelMu.Unlock()

	if u.levelStop != nil {
		close(u.levelStop)
		u.levelStop = nil
	}
}

func (u *UI) setStartStopTitle(title string) {
	if u.mStartStop != nil {
		u.mStartStop.SetTitle(title)
	}
}

// updateStatus sets the tray title with microphone emoji and status indicator
func (u *UI) updateStatus(status string) {
	emoji := emojiForStatus(status)
	systray.SetTitle(fmt.Sprintf("🎤 %s", emoji))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "processing":
		return "🟡" // Yellow - processing transcription
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}

// levelBar renders an input level in [0,1] as a fixed-width segment bar.
func levelBar(level float64) string {
	v := level * levelBoost
	if v > 1 {
		v = 1
	}
	if v < 0 {
		v = 0
	}
	filled := int(v*levelBarSegments + 0.5)

	var b strings.Builder
	for i := 0; i < levelBarSegments; i++ {
		if i < filled {
			b.WriteRune('▮')
		} else {
			b.WriteRune('▯')
		}
	}
	return b.String()
}
