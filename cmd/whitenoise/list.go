package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/whitenoise/internal/timeline"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the compositions in the repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		list, err := a.repo.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tDURATION\tTRACKS")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.ID, s.Name, timeline.FormatTime(s.Duration), s.TrackCount)
		}
		return tw.Flush()
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "Show a composition's clips",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		c, err := a.repo.Get(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s)\n", c.Name, c.ID)
		if c.Description != "" {
			fmt.Println(c.Description)
		}
		fmt.Printf("duration %s, %d clips\n\n", timeline.FormatTime(c.Duration), len(c.Clips))

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "AUDIO\tCATEGORY\tSTART\tEND\tVOLUME\tLOOP\tFADE IN/OUT")
		for _, clip := range c.Clips {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%t\t%g/%g\n",
				clip.Audio, timeline.Category(clip.Audio),
				timeline.FormatTime(clip.Start), timeline.FormatTime(clip.End),
				clip.Volume, clip.Loop, clip.FadeIn, clip.FadeOut)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			fmt.Printf("\nwarnings: %v\n", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
}
