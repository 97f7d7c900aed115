package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ewilliams-labs/mend/internal/config"
	"github.com/ewilliams-labs/mend/internal/logging"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Classify a reflection against the configured language model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

			classifier, err := newClassifier(cfg, logger)
			if err != nil {
				return err
			}
			analysis := classifier.Classify(cmd.Context(), strings.Join(args, " "))
			return writeJSON(cmd, analysis)
		},
	}
}
