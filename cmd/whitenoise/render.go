package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satindergrewal/whitenoise/internal/render"
)

var (
	renderOut    string
	renderForce  bool
	renderRemote bool
)

var renderCmd = &cobra.Command{
	Use:   "render <id>",
	Short: "Mix a composition down to a WAV file",
	Long: `Mix a composition down to a 16-bit stereo WAV file.

With --remote the export runs on the repository server
(WHITENOISE_REPOSITORY_URL) and the command waits for its download URL.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		id := args[0]

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		if renderRemote {
			if a.client == nil {
				return errors.New("--remote needs WHITENOISE_REPOSITORY_URL")
			}
			url, err := a.client.Export(ctx, id, renderForce, time.Second)
			if err != nil {
				return err
			}
			fmt.Println(cfg.RepositoryURL + url)
			return nil
		}

		out := renderOut
		if out == "" {
			out = filepath.Join(cfg.ComposedDir, id+".wav")
		}
		if _, err := os.Stat(out); err == nil && !renderForce {
			fmt.Println(out)
			return nil
		}

		c, err := a.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		start := time.Now()
		if err := render.Mixdown(ctx, c, a.assets, f, logger); err != nil {
			f.Close()
			os.Remove(out)
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close output: %w", err)
		}
		logger.Info("render finished", zap.String("id", id), zap.String("path", out), zap.Duration("took", time.Since(start)))
		fmt.Println(out)
		return nil
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "output path (default {composed dir}/{id}.wav)")
	renderCmd.Flags().BoolVarP(&renderForce, "force", "f", false, "render even when the output exists")
	renderCmd.Flags().BoolVar(&renderRemote, "remote", false, "export on the repository server")
	rootCmd.AddCommand(renderCmd)
}
