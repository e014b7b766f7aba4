package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultRetryDelay = 2 * time.Second
	defaultMaxRetries = 3
	defaultTimeout    = 5 * time.Minute
	markerFilename    = ".tsexport-downloaded"
)

// Downloader fetches a repository revision into a directory.
type Downloader interface {
	Download(ctx context.Context, repo, revision, targetDir string) error
}

// HuggingFaceDownloader downloads models with the Hugging Face CLI.
type HuggingFaceDownloader struct {
	// Command is the CLI executable. Defaults to "hf".
	Command string

	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration

	Logger *slog.Logger
}

// NewHuggingFaceDownloader returns a downloader with the default retry
// policy.
func NewHuggingFaceDownloader(logger *slog.Logger) *HuggingFaceDownloader {
	return &HuggingFaceDownloader{
		Command:    "hf",
		MaxRetries: defaultMaxRetries,
		RetryDelay: defaultRetryDelay,
		Timeout:    defaultTimeout,
		Logger:     logger,
	}
}

// Download fetches repo at revision into targetDir. A marker file records
// completed downloads so a later call with the same repo and revision is a
// no-op.
func (d *HuggingFaceDownloader) Download(ctx context.Context, repo, revision, targetDir string) error {
	log := d.logger()
	markerPath := filepath.Join(targetDir, markerFilename)
	markerContent := d.markerContent(repo, revision)

	if _, err := os.Stat(markerPath); err == nil {
		if !d.shouldRedownload(markerPath, markerContent) {
			log.Info("Model already downloaded, skipping", "repo", repo, "revision", revision, "path", targetDir)
			return nil
		}
	}

	if err := os.MkdirAll(targetDir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	args := []string{
		"download",
		repo,
		"--local-dir", targetDir,
	}
	if revision != "" {
		args = append(args, "--revision", revision)
	}

	retries := max(d.MaxRetries, 1)
	var lastErr error
	for attempt := range retries {
		if attempt > 0 {
			log.Info("Retrying download", "repo", repo, "attempt", attempt+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("download canceled: %w", ctx.Err())
			case <-time.After(d.RetryDelay):
			}
		} else {
			log.Info("Downloading model", "repo", repo, "revision", revision, "path", targetDir)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout())
		//nolint:gosec // G204: arguments are a validated repository id and paths
		cmd := exec.CommandContext(attemptCtx, d.command(), args...)
		output, err := cmd.CombinedOutput()
		attemptErr := attemptCtx.Err()
		cancel()

		if err == nil {
			if err := os.WriteFile(markerPath, []byte(markerContent), 0o600); err != nil {
				log.Warn("Failed to write download marker", "path", markerPath, "error", err)
			}
			log.Info("Model downloaded", "repo", repo, "path", targetDir, "attempt", attempt+1)
			return nil
		}

		lastErr = fmt.Errorf("%s: %w: %s", d.command(), err, strings.TrimSpace(string(output)))
		log.Error("Failed to download model", "repo", repo, "attempt", attempt+1, "error", err, "output", string(output))

		switch {
		case errors.Is(attemptErr, context.DeadlineExceeded) && ctx.Err() == nil:
			log.Warn("Download timed out", "repo", repo, "attempt", attempt+1)
		case ctx.Err() != nil:
			return fmt.Errorf("download canceled: %w", ctx.Err())
		}
	}

	return lastErr
}

func (d *HuggingFaceDownloader) command() string {
	if d.Command == "" {
		return "hf"
	}
	return d.Command
}

func (d *HuggingFaceDownloader) timeout() time.Duration {
	if d.Timeout <= 0 {
		return defaultTimeout
	}
	return d.Timeout
}

func (d *HuggingFaceDownloader) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// markerContent is the expected content of the marker file.
func (d *HuggingFaceDownloader) markerContent(repo, revision string) string {
	return fmt.Sprintf("repo: %s\nrevision: %s\n", repo, revision)
}

// shouldRedownload compares the marker with the requested repo and revision.
func (d *HuggingFaceDownloader) shouldRedownload(markerPath, expectedContent string) bool {
	//nolint:gosec // G304: marker lives inside the models directory
	content, err := os.ReadFile(markerPath)
	if err != nil {
		return true
	}
	if string(content) != expectedContent {
		d.logger().Info("Download marker mismatch, will redownload", "marker_path", markerPath)
		return true
	}
	return false
}
