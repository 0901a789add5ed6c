package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

// Dictation modes.
const (
	ModePushToTalk = "push_to_talk"
	ModeToggle     = "toggle"
)

type Config struct {
	Hotkey       string        `json:"hotkey"`
	HotkeyDarwin string        `json:"hotkey_darwin"`
	Mode         string        `json:"mode"` // ModePushToTalk or ModeToggle
	Audio        AudioConfig   `json:"audio"`
	Whisper      WhisperConfig `json:"whisper"`
	Inject       InjectConfig  `json:"inject"`
	Filters      FilterConfig  `json:"filters"`
	LogLevel     string        `json:"log_level"`
	MetricsAddr  string        `json:"metrics_addr"` // empty disables the metrics listener
	RunAtLogin   bool          `json:"run_at_login"`
}

type AudioConfig struct {
	DeviceID        string `json:"device_id"`         // empty means default input
	SampleRate      int    `json:"sample_rate"`       // 0 means device default
	Channels        int    `json:"channels"`          // 0 means mono
	FramesPerBuffer int    `json:"frames_per_buffer"` // 0 means host default
}

type WhisperConfig struct {
	Model    string `json:"model"`    // "base.en", "small", etc.
	Language string `json:"language"` // "auto", "en", etc.
	Threads  int    `json:"threads"`  // 0 auto-detects
}

type InjectConfig struct {
	PreferPaste bool `json:"prefer_paste"`
}

type FilterConfig struct {
	CapitalizeFirst bool `json:"capitalize_first"`
	AppendSpace     bool `json:"append_space"`
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	path := configPath()

	// Default config
	cfg := &Config{
		Hotkey:       "Alt+Space",
		HotkeyDarwin: "Alt+Space", // Option+Space
		Mode:         ModePushToTalk,
		Audio: AudioConfig{
			DeviceID: "",
			Channels: 1,
		},
		Whisper: WhisperConfig{
			Model:    "base.en",
			Language: "auto",
			Threads:  0, // Auto-detect
		},
		Inject: InjectConfig{
			PreferPaste: true,
		},
		Filters: FilterConfig{
			CapitalizeFirst: true,
			AppendSpace:     true,
		},
		LogLevel:   "info",
		RunAtLogin: false,
	}

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := configPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// PlatformHotkey returns the appropriate hotkey for the current platform
func (c *Config) PlatformHotkey() string {
	if runtime.GOOS == "darwin" && c.HotkeyDarwin != "" {
		return c.HotkeyDarwin
	}
	return c.Hotkey
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "voicekey", "config.json")
}

// ModelsPath returns the platform-specific models directory path
func ModelsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, "voicekey", "models")
}
