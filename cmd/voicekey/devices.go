package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petems/voicekey/internal/audio"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Args:  cobra.NoArgs,
		RunE:  runDevices,
	}
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	host, err := audio.NewHost(log)
	if err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer host.Close()

	devices, err := host.ListDevices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No capture devices found")
		return nil
	}

	out := cmd.OutOrStdout()
	for _, dev := range devices {
		marker := " "
		if dev.Default {
			marker = "*"
		}
		configured := ""
		if cfg.Audio.DeviceID == dev.ID {
			configured = " (configured)"
		}
		fmt.Fprintf(out, "%s %s%s\n", marker, dev.Name, configured)
	}
	fmt.Fprintln(out, "\n* = system default")
	return nil
}
