package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ewilliams-labs/mend/internal/config"
	"github.com/ewilliams-labs/mend/internal/core/domain"
	"github.com/ewilliams-labs/mend/internal/logging"
	"github.com/ewilliams-labs/mend/internal/worker"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		format     string
		sampleRate int
	)
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Run eating detection on an mp3, flac or raw 16-bit PCM file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read audio file: %w", err)
			}
			if format == "" {
				switch strings.ToLower(filepath.Ext(args[0])) {
				case ".mp3":
					format = string(worker.FormatMP3)
				case ".flac":
					format = string(worker.FormatFLAC)
				default:
					format = string(worker.FormatPCM)
				}
			}
			f, err := worker.ParseFormat(format)
			if err != nil {
				return err
			}
			buf, err := worker.Decode(payload, f, sampleRate)
			if err != nil {
				return err
			}

			extractor, detector := newAudioPipeline(cfg, logger)
			result := detector.Analyze(extractor.Extract(buf.Samples, buf.SampleRate))
			return writeJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "payload format: pcm, mp3 or flac (default from file extension, else pcm)")
	cmd.Flags().IntVar(&sampleRate, "sample-rate", domain.DefaultSampleRate, "sample rate of raw PCM input")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
