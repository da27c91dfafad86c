package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knewbitmax/api/internal/dubbing"
)

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var language string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "transcribe <video>",
		Short: "Transcribe and translate a video without synthesizing speech",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			driver := dubbing.NewDriver(ctx.transcriberFor(cfg), ctx.driverConfig(cfg), nil)
			raw, err := driver.Transcribe(cmd.Context(), args[0], "video/mp4", language)
			if err != nil {
				return err
			}
			segments, err := dubbing.ParseTranscript(raw)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, map[string]any{"segments": segments})
			}
			if len(segments) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No speech segments found")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), segmentTable(segments))
			return nil
		},
	}

	cmd.Flags().StringVarP(&language, "lang", "l", "", "Target language name (e.g. Hindi)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("lang")
	return cmd
}
