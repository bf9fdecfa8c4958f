package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/normanking/cortexcompanion/internal/config"
	"github.com/normanking/cortexcompanion/internal/emotion"
	"github.com/normanking/cortexcompanion/internal/gesture"
	"github.com/normanking/cortexcompanion/internal/lipsync"
	"github.com/normanking/cortexcompanion/internal/render"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [text...]",
		Short: "Show how text maps to emotion, gesture and visemes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			emotions := emotion.NewResolver(emotion.DefaultConfig(), nil, nil, nil, zerolog.Nop())
			gestures := gesture.NewResolver(nil, zerolog.Nop())

			category, intensity := emotions.Classify(text)
			buckets := make([]string, 0)
			for _, b := range gestures.Buckets(text) {
				buckets = append(buckets, b.String())
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "emotion:  %s (%.2f)\n", category, intensity)
			fmt.Fprintf(out, "time:     %s\n", emotions.TimeOfDay())
			fmt.Fprintf(out, "cues:     %s\n", strings.Join(buckets, ", "))
			fmt.Fprintf(out, "gesture:  %s\n", gestures.Classify(text))
			fmt.Fprintf(out, "phonemes: %s\n", strings.Join(lipsync.Phonemes(text), " "))
			return nil
		},
	}
}

func newInspectCmd(configDir *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect [model]",
		Short: "Check a VRM/glTF model for the blend shapes the avatar drives",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				loader, err := config.NewLoader(*configDir, zerolog.Nop())
				if err != nil {
					return err
				}
				cfg, err := loader.Load()
				if err != nil {
					return err
				}
				path = cfg.Avatar.ModelPath
			}
			if path == "" {
				return errors.New("no model given and avatar.model_path is not set")
			}

			report, err := render.InspectModel(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Fprintf(out, "model:       %s\n", report.Path)
			fmt.Fprintf(out, "meshes:      %d\n", report.Meshes)
			fmt.Fprintf(out, "targets:     %d\n", len(report.MorphTargets))
			fmt.Fprintf(out, "expressions: %s\n", strings.Join(report.Expressions, ", "))
			fmt.Fprintf(out, "supported:   %v\n", report.Supported)
			if !report.Complete() {
				fmt.Fprintf(out, "missing:     %v\n", report.Missing)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
