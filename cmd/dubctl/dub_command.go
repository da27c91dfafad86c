package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knewbitmax/api/internal/dubbing"
)

func newDubCommand(ctx *commandContext) *cobra.Command {
	var language string
	var langCode string
	var voice string
	var output string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "dub <video>",
		Short: "Dub a local video into another language",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			input := args[0]
			if output == "" {
				output = defaultOutputPath(input, langCode)
			}

			pipeline := dubbing.NewPipeline(dubbing.Options{
				WorkDir:        cfg.Media.WorkDir,
				SampleRate:     cfg.Media.SampleRate,
				MaxConcurrency: cfg.TTS.MaxConcurrency,
				Driver:         ctx.driverConfig(cfg),
			},
				ctx.mediaTools(cfg),
				ctx.transcriberFor(cfg),
				ctx.synthesizerFor(cfg),
				dubbing.NewCache(cfg.Cache.Capacity),
				dubbing.NewRegistry(cfg.Dedup.MaxAge, cfg.Dedup.SweepInterval),
			)

			stderr := cmd.ErrOrStderr()
			result, err := pipeline.Run(cmd.Context(), dubbing.Request{
				SourcePath:     input,
				SourceID:       input,
				TargetLanguage: language,
				LanguageCode:   langCode,
				Voice:          voice,
				OutputPath:     output,
			}, func(progress int, step string) {
				fmt.Fprintf(stderr, "[%3d%%] %s\n", progress, step)
			})
			if err != nil {
				if diagnostic := dubbing.Diagnostic(err); diagnostic != "" {
					fmt.Fprintln(stderr, diagnostic)
				}
				return fmt.Errorf("%s: %w", dubbing.ErrorCode(err), err)
			}

			if asJSON {
				return writeJSON(cmd, map[string]any{
					"output": output,
					"result": result,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, segmentTable(result.Segments))
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "Warning: %s\n", w)
			}
			fmt.Fprintf(out, "Wrote %s (%d segments, %.1fs)\n", output, len(result.Segments), result.ElapsedSeconds)
			return nil
		},
	}

	cmd.Flags().StringVarP(&language, "lang", "l", "", "Target language name (e.g. Hindi)")
	cmd.Flags().StringVar(&langCode, "code", "", "Language code for speech synthesis (e.g. hi-IN)")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice name (provider default when empty)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default <input>.<code>.mp4)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("lang")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func defaultOutputPath(input, langCode string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + "." + strings.ToLower(langCode) + ".mp4"
}
