package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"image-uploader-go/internal/batch"
	"image-uploader-go/internal/config"
	"image-uploader-go/internal/logger"
	"image-uploader-go/internal/media"
	"image-uploader-go/internal/presets"
	"image-uploader-go/internal/source"
	"image-uploader-go/internal/statistics"
	"image-uploader-go/internal/transcoder"
	"image-uploader-go/internal/validation"
	"image-uploader-go/internal/web"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	verbose    bool
	quiet      bool
	port       int
	presetName string
	folder     string
	jsonOutput bool
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "image-uploader",
	Short: "Validate, optimize and upload images",
	Long: `Image Uploader checks images against a preset's rules, re-encodes them
to a bounded size and format, and uploads the results to object storage.

Features:
- Named presets (default, avatar, gallery, document, cover) with overrides in config
- Resize to fit, WebP/JPEG/PNG output with quality stepping toward a size budget
- Memory, local, gocloud bucket URL and native S3 storage backends
- Asset catalog in memory, SQLite or Redis
- HTTP API with live batch progress over WebSocket and Prometheus metrics`,
	SilenceUsage: true,
}

// serveCmd starts the HTTP service.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload HTTP service",
	Long: `Starts the HTTP service. Uploads are posted as multipart forms to
/api/uploads and progress is pushed to WebSocket clients on /ws.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// uploadCmd runs one batch over local files.
var uploadCmd = &cobra.Command{
	Use:   "upload <file|dir>...",
	Short: "Validate, optimize and upload local images",
	Long: `Runs one batch over the given files. Directories are searched
recursively for image files. Files are processed in the order given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpload(cmd.Context(), args)
	},
}

// presetsCmd lists the available presets.
var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the available presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPresets()
	},
}

// inspectCmd validates a file and performs a dry transcode.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show how a file would be validated and transcoded",
	Long: `Validates the file against a preset and transcodes it without uploading.
This is useful for tuning preset rules and size budgets.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run the HTTP service on (default from config)")

	uploadCmd.Flags().StringVar(&presetName, "preset", presets.DefaultName, "preset to apply")
	uploadCmd.Flags().StringVar(&folder, "folder", "", "destination folder (default is the preset's folder)")
	uploadCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the batch result as JSON")

	inspectCmd.Flags().StringVar(&presetName, "preset", presets.DefaultName, "preset to apply")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(inspectCmd)
}

// runServe starts the HTTP service and handles graceful shutdown.
func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	log := setupLogger(cfg)
	a, err := newApp(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	server := web.NewServer(cfg, log, a.webDeps())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	if !quiet {
		fmt.Printf("Image Uploader listening on http://localhost:%d\n", port)
		fmt.Printf("Storage: %s, catalog: %s\n", cfg.Storage.Backend, cfg.Catalog.Driver)
		fmt.Printf("Press Ctrl+C to stop the server\n\n")
	}

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
	}
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// runUpload loads local files and runs them through one batch.
func runUpload(ctx context.Context, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	preset, err := a.presets.Get(presetName)
	if err != nil {
		return err
	}
	dest := folder
	if dest == "" {
		dest = preset.Folder
	}

	files, err := source.Collect(args, source.DefaultExtensions)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no image files found in %s", strings.Join(args, ", "))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	inputs, err := source.Load(ctx, files)
	if err != nil {
		return err
	}

	var onProgress batch.ProgressFunc
	var bar *progressbar.ProgressBar
	if !quiet && !jsonOutput {
		bar = progressbar.NewOptions(len(inputs),
			progressbar.OptionSetDescription(fmt.Sprintf("Uploading to %s", dest)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
		onProgress = func(items []batch.Progress) {
			_ = bar.Set(finishedCount(items))
		}
	}

	result, err := a.coordinator.Run(ctx, inputs, dest, preset.Rules, preset.Transcode, onProgress)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printResult(result)
	if !quiet {
		fmt.Println("\n" + a.stats.GetSummary())
		fmt.Println(a.stats.GetFileTypeBreakdown())
		if result.ErrorCount > 0 {
			fmt.Println(a.stats.GetErrorSummary())
		}
	}
	if result.ErrorCount > 0 {
		return fmt.Errorf("%d of %d files failed", result.ErrorCount, len(result.Items))
	}
	return nil
}

// finishedCount counts the items that can no longer change.
func finishedCount(items []batch.Progress) int {
	n := 0
	for _, it := range items {
		if it.Status == batch.StatusCompleted || it.Status == batch.StatusError {
			n++
		}
	}
	return n
}

func printResult(result *batch.Result) {
	fmt.Printf("Batch %s: %d uploaded, %d failed\n", result.BatchID, result.SuccessCount, result.ErrorCount)
	for _, it := range result.Items {
		switch {
		case it.State == batch.StateCompleted:
			t := it.Transcode
			fmt.Printf("  ✓ %s → %s (%s → %s, q=%.2f)\n", it.FileName, it.Upload.URL,
				statistics.FormatBytes(int64(t.InputBytes)), statistics.FormatBytes(int64(t.OutputBytes)), t.Quality)
		case len(it.Violations) > 0:
			fmt.Printf("  ✗ %s: %s\n", it.FileName, strings.Join(it.Violations, "; "))
		default:
			fmt.Printf("  ✗ %s [%s]: %s\n", it.FileName, it.State, it.Error)
		}
	}
}

// runPresets prints the preset table.
func runPresets() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	for _, p := range reg.All() {
		t := p.Transcode
		fmt.Printf("%-10s %s\n", p.Name, p.Description)
		fmt.Printf("           folder=%s max=%s types=%s\n",
			p.Folder, statistics.FormatBytes(p.Rules.MaxSizeBytes), strings.Join(p.Rules.AllowedMimeTypes, ","))
		fmt.Printf("           min=%dx%d max=%dx%d → %s %dx%d q=%.2f budget=%s\n",
			p.Rules.MinWidth, p.Rules.MinHeight, p.Rules.MaxWidth, p.Rules.MaxHeight,
			t.Format, t.MaxWidth, t.MaxHeight, t.Quality, statistics.FormatBytes(t.MaxSizeBytes))
	}
	return nil
}

// runInspect validates one file and transcodes it without uploading.
func runInspect(ctx context.Context, filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	preset, err := reg.Get(presetName)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	name := filepath.Base(filePath)
	input := media.NewRawInput(name, source.DetectMimeType(name, "", data), data)

	fmt.Printf("Inspecting %s with preset %q\n", filePath, preset.Name)
	fmt.Printf("  type: %s, size: %s\n", input.MimeType, statistics.FormatBytes(int64(input.Size())))
	if dims, _, err := media.DecodeConfig(data); err == nil {
		fmt.Printf("  dimensions: %dx%d\n", dims.Width, dims.Height)
	}

	v := validation.Engine.Validate(input, preset.Rules)
	if !v.OK {
		fmt.Println("  validation: FAILED")
		for _, msg := range v.Violations {
			fmt.Printf("    - %s\n", msg)
		}
		return nil
	}
	fmt.Println("  validation: ok")

	log := setupLogger(cfg)
	out := transcoder.NewDefaultTranscoder(nil, log).Transcode(ctx, input, preset.Transcode)
	if !out.OK {
		fmt.Printf("  transcode: FAILED: %s\n", out.Error)
		return nil
	}
	fmt.Printf("  transcode: %s %dx%d, %s → %s (%.1f%% saved), q=%.2f after %d attempt(s) in %s\n",
		out.File.Name, out.Width, out.Height,
		statistics.FormatBytes(int64(out.InputBytes)), statistics.FormatBytes(int64(out.OutputBytes)),
		out.CompressionRatioPercent, out.Quality, out.Attempts, out.Duration.Round(time.Millisecond))
	if !out.WithinBudget {
		fmt.Printf("  warning: output exceeds the %s budget\n", statistics.FormatBytes(preset.Transcode.MaxSizeBytes))
	}
	return nil
}

// loadConfig loads configuration from --config or the default locations.
func loadConfig() (*config.Config, error) {
	return config.LoadConfig(cfgFile)
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := cfg.LoggerConfig()
	loggerCfg.Console = loggerCfg.Console && !quiet

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
