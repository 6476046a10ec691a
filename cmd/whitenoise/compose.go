package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/whitenoise/internal/composer"
)

var composeSave bool

var composeCmd = &cobra.Command{
	Use:   "compose <scene description>",
	Short: "Generate a composition from a scene description with Ollama",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.OllamaURL == "" {
			return errors.New("compose needs WHITENOISE_OLLAMA_URL")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		client := composer.NewClient(cfg.OllamaURL, cfg.OllamaModel, logger)
		gen := composer.NewGenerator(client, a.lib, logger)
		res, err := gen.Generate(ctx, strings.Join(args, " "))
		if err != nil {
			var inv *composer.InvalidError
			if errors.As(err, &inv) && inv.Raw != "" {
				fmt.Println(inv.Raw)
			}
			return err
		}

		fmt.Printf("# %s\n%s", res.ID, res.YAML)
		if composeSave {
			if a.store == nil {
				return errors.New("--save needs a local composition directory")
			}
			path, err := composer.Save(a.store, res)
			if err != nil {
				return err
			}
			fmt.Printf("saved to %s\n", path)
		}
		return nil
	},
}

func init() {
	composeCmd.Flags().BoolVarP(&composeSave, "save", "s", false, "save into the composition directory")
	rootCmd.AddCommand(composeCmd)
}
