package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/whitenoise/internal/audio"
	"github.com/satindergrewal/whitenoise/internal/repository"
)

var scanDryRun bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Measure every library file and record its duration and volume",
	Long: `Decode every file listed in the sound library and write its duration
and mean volume (dBFS plus a loud/medium/soft/very_soft label) back into
WHITENOISE_DESCRIPTIONS_PATH.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		lib, err := repository.LoadLibrary(cfg.DescriptionsPath)
		if err != nil {
			return err
		}
		src, err := newSource(cfg)
		if err != nil {
			return err
		}
		dec := audio.NativeDecoder{Fallback: audio.FFmpegDecoder{Path: cfg.FFmpegPath}}

		rep, err := lib.Scan(ctx, src, dec, logger)
		if err != nil {
			return err
		}
		fmt.Printf("scanned %d files, updated %d\n", rep.Total, rep.Updated)
		for _, name := range rep.Failures() {
			fmt.Printf("  failed %s: %v\n", name, rep.Failed[name])
		}
		if scanDryRun {
			return nil
		}
		if err := lib.Save(cfg.DescriptionsPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", cfg.DescriptionsPath)
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVarP(&scanDryRun, "dry-run", "n", false, "measure without writing the library")
	rootCmd.AddCommand(scanCmd)
}
