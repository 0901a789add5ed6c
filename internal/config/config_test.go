package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// pointConfigAt redirects every platform's config base into a temp dir.
func pointConfigAt(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "xdg-data"))
	t.Setenv("APPDATA", filepath.Join(dir, "appdata"))
	t.Setenv("LOCALAPPDATA", filepath.Join(dir, "local-appdata"))
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	pointConfigAt(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != ModePushToTalk {
		t.Errorf("expected default mode %q, got %q", ModePushToTalk, cfg.Mode)
	}
	if cfg.Hotkey != "Alt+Space" {
		t.Errorf("expected default hotkey, got %q", cfg.Hotkey)
	}
	if cfg.Whisper.Model != "base.en" {
		t.Errorf("expected default model base.en, got %q", cfg.Whisper.Model)
	}
	if cfg.Audio.Channels != 1 {
		t.Errorf("expected mono default, got %d channels", cfg.Audio.Channels)
	}
	if !cfg.Inject.PreferPaste {
		t.Error("expected prefer_paste default true")
	}
	if !cfg.Filters.CapitalizeFirst || !cfg.Filters.AppendSpace {
		t.Errorf("expected filters on by default, got %+v", cfg.Filters)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.LogLevel)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("expected metrics disabled by default, got %q", cfg.MetricsAddr)
	}
}

func TestSaveThenLoadRoundtrip(t *testing.T) {
	pointConfigAt(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Mode = ModeToggle
	cfg.Audio.DeviceID = "USB Microphone"
	cfg.Audio.SampleRate = 48000
	cfg.Whisper.Threads = 4
	cfg.MetricsAddr = "127.0.0.1:9090"

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Mode != ModeToggle {
		t.Errorf("expected mode %q, got %q", ModeToggle, loaded.Mode)
	}
	if loaded.Audio.DeviceID != "USB Microphone" {
		t.Errorf("expected device to roundtrip, got %q", loaded.Audio.DeviceID)
	}
	if loaded.Audio.SampleRate != 48000 {
		t.Errorf("expected sample rate to roundtrip, got %d", loaded.Audio.SampleRate)
	}
	if loaded.Whisper.Threads != 4 {
		t.Errorf("expected threads to roundtrip, got %d", loaded.Whisper.Threads)
	}
	if loaded.MetricsAddr != "127.0.0.1:9090" {
		t.Errorf("expected metrics addr to roundtrip, got %q", loaded.MetricsAddr)
	}
}

func TestLoadMergesPartialFile(t *testing.T) {
	pointConfigAt(t, t.TempDir())

	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"mode":"toggle"}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeToggle {
		t.Errorf("expected file mode to win, got %q", cfg.Mode)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Whisper.Model != "base.en" {
		t.Errorf("expected default model to survive partial file, got %q", cfg.Whisper.Model)
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	pointConfigAt(t, t.TempDir())

	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{not json`), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected error for corrupt config")
	}
}

func TestPlatformHotkey(t *testing.T) {
	cfg := &Config{Hotkey: "Ctrl+Space", HotkeyDarwin: "Cmd+Space"}

	want := "Ctrl+Space"
	if runtime.GOOS == "darwin" {
		want = "Cmd+Space"
	}
	if got := cfg.PlatformHotkey(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	cfg.HotkeyDarwin = ""
	if got := cfg.PlatformHotkey(); got != "Ctrl+Space" {
		t.Errorf("expected fallback to base hotkey, got %q", got)
	}
}

func TestPathsUseAppDirectory(t *testing.T) {
	pointConfigAt(t, t.TempDir())

	if p := configPath(); !strings.Contains(p, "voicekey") {
		t.Errorf("config path should live under the app directory, got %q", p)
	}
	if p := ModelsPath(); !strings.Contains(p, "voicekey") {
		t.Errorf("models path should live under the app directory, got %q", p)
	}
}
