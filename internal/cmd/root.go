// Package cmd implements the tsexport command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/born-ml/tsexport/internal/config"
	"github.com/born-ml/tsexport/internal/export"
	"github.com/born-ml/tsexport/internal/logger"
	"github.com/born-ml/tsexport/internal/source"
	"github.com/spf13/cobra"
)

var (
	flagOutput    string
	flagModelsDir string
	flagDownload  bool
	flagLogLevel  string
	flagLogFile   string
	flagNoColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "tsexport",
	Short: "Export a pretrained time-series forecaster to ONNX",
	Long: `tsexport loads the pretrained TinyTimeMixer forecaster, traces it on a
synthetic [1, context, 1] input and writes the resulting graph as an ONNX
model with a Triton configuration next to it.

The model identity and lengths are fixed at build time. Flags only change
where files go and how progress is logged.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runExport,
}

// Execute runs the root command and exits with status 1 on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Artifact path (default from build settings)")
	rootCmd.Flags().StringVar(&flagModelsDir, "models-dir", "", "Download cache directory (default from build settings)")
	rootCmd.Flags().BoolVar(&flagDownload, "download", true, "Download the model if it is not cached")

	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Also write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored console output")
}

// loadConfig returns the build settings with command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Default()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Export.Output = flagOutput
	}
	if flags.Changed("models-dir") {
		cfg.Storage.ModelsDir = flagModelsDir
	}
	if flags.Changed("download") {
		cfg.Storage.Download = flagDownload
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = flagLogLevel
	}
	if flags.Changed("log-file") {
		cfg.Logging.File = flagLogFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger installs the process logger. The returned closer flushes the
// log file.
func setupLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, io.Closer, error) {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	log, closer := logger.New(
		logger.WithWriter(cmd.ErrOrStderr()),
		logger.WithLevel(level),
		logger.WithNoColor(flagNoColor),
		logger.WithLogFile(cfg.Logging.File),
	)
	slog.SetDefault(log)
	return log, closer, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, closer, err := setupLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	downloader := source.NewHuggingFaceDownloader(log)
	downloader.MaxRetries = cfg.Storage.MaxRetries
	if cfg.Storage.Timeout > 0 {
		downloader.Timeout = cfg.Storage.Timeout
	}

	p := export.New(export.Options{
		ModelID:          cfg.Model.ID,
		ContextLength:    cfg.Model.ContextLength,
		PredictionLength: cfg.Model.PredictionLength,
		OutputPath:       cfg.Export.Output,
		TritonConfig:     cfg.Export.TritonConfig,
		TritonModelName:  cfg.Export.TritonModelName,
		MaxBatchSize:     cfg.Export.MaxBatchSize,
		Seed:             cfg.Export.Seed,
		CheckInputs:      cfg.Export.CheckInputs,
		Tolerance:        cfg.Export.Tolerance,
		Version:          Version,
		Resolver: &source.Resolver{
			ModelsDir:  cfg.Storage.ModelsDir,
			Download:   cfg.Storage.Download,
			Downloader: downloader,
			Logger:     log,
		},
		Logger: log,
	})

	res, err := p.Run(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", res.Path)
	if res.TritonPath != "" {
		fmt.Fprintf(out, "%s\n", res.TritonPath)
	}
	fmt.Fprintf(out, "sha256 %s  %d bytes\n", res.SHA256, res.Size)
	return nil
}
