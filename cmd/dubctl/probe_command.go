package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knewbitmax/api/internal/dubbing"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe <video>",
		Short: "Show the streams of a video and whether it needs transcoding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			path := args[0]
			probe, err := ctx.mediaTools(cfg).Probe(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("probe %s: %w", path, err)
			}
			canonical := dubbing.IsCanonical(path, probe)

			if asJSON {
				return writeJSON(cmd, map[string]any{
					"path":      path,
					"container": probe.Format.FormatName,
					"duration":  probe.DurationSeconds(),
					"canonical": canonical,
					"streams":   probe.Streams,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "File:      %s\n", path)
			fmt.Fprintf(out, "Container: %s\n", probe.Format.FormatName)
			fmt.Fprintf(out, "Duration:  %s\n", formatTimestamp(probe.DurationSeconds()))
			fmt.Fprintf(out, "Canonical: %v\n", canonical)
			fmt.Fprintln(out, streamTable(probe.Streams))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
