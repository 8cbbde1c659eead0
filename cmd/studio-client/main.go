package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/inference-studio/internal/config"
	"github.com/book-expert/inference-studio/internal/core"
	"github.com/book-expert/inference-studio/internal/display"
	"github.com/book-expert/inference-studio/internal/inference"
	"github.com/book-expert/inference-studio/internal/intake"
	"github.com/book-expert/logger"
	"github.com/samber/lo"
)

// Flag descriptions.
const (
	flagImageDesc   = "Image file to classify"
	flagImagesDesc  = "Comma-separated image files to classify in one batch"
	flagTextDesc    = "Text to convert to speech"
	flagChunksDesc  = "JSON file containing text chunks to convert to speech"
	flagCorrectDesc = "Text to send to the correction endpoint"
	flagOutputDesc  = "Output file (.wav) for --text, output directory for --chunks"
	flagAPIURLDesc  = "Inference service base URL (overrides configuration)"
	flagVerboseDesc = "Enable verbose logging"
	flagHealthDesc  = "Check inference service health and exit"
)

// Flag names.
const (
	flagImage   = "image"
	flagImages  = "images"
	flagText    = "text"
	flagChunks  = "chunks"
	flagCorrect = "correct"
	flagOutput  = "output"
	flagAPIURL  = "api-url"
	flagVerbose = "verbose"
	flagHealth  = "health"
)

// Error messages.
const (
	errFailedToLoadConfig = "failed to load configuration: %w"
	errFailedToInitLogger = "failed to initialize logger: %w"
	errServiceNotHealthy  = "Inference service is not healthy: %v\n"
	msgServiceHealthy     = "Inference service is healthy"
)

// Log messages.
const (
	logClientInitialized = "Studio client initialized (inference service: %s)"
	logClassifying       = "Classifying %d image(s)"
	logSynthesizing      = "Synthesizing %d chunk(s) to %s"
	logGenerated         = "Generated: %s\n"
)

// File names and paths.
const (
	logFileNameDefault = "studio-client.log"
	logFileNameVerbose = "studio-client-verbose.log"
	defaultOutputFile  = "output.wav"
)

// Static errors.
var (
	ErrNoAction       = errors.New("one of --image, --images, --text, --chunks, --correct or --health must be provided")
	ErrTooManyActions = errors.New("only one of --image, --images, --text, --chunks, --correct or --health may be provided")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	image   string
	images  string
	text    string
	chunks  string
	correct string
	output  string
	apiURL  string
	verbose bool
	health  bool
}

// client is what the commands need from the inference service.
type client interface {
	core.Classifier
	core.Synthesizer
	core.Corrector
	HealthCheck(ctx context.Context) error
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application entry point, returning an error on failure.
func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	err = validateFlags(flags)
	if err != nil {
		return err
	}

	cfg, log, err := setup(flags)
	if err != nil {
		return err
	}
	defer log.Close()

	apiClient := inference.NewHTTPClient(cfg.Inference.BaseURL, cfg.Timeout())
	log.Info(logClientInitialized, apiClient.BaseURL())

	return execute(context.Background(), apiClient, cfg, log, flags, stdout)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("studio-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.image, flagImage, "", flagImageDesc)
	flagSet.StringVar(&flags.images, flagImages, "", flagImagesDesc)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.chunks, flagChunks, "", flagChunksDesc)
	flagSet.StringVar(&flags.correct, flagCorrect, "", flagCorrectDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.StringVar(&flags.apiURL, flagAPIURL, "", flagAPIURLDesc)
	flagSet.BoolVar(&flags.verbose, flagVerbose, false, flagVerboseDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateFlags requires exactly one action.
func validateFlags(flags appFlags) error {
	actions := lo.Count([]bool{
		flags.image != "",
		flags.images != "",
		flags.text != "",
		flags.chunks != "",
		flags.correct != "",
		flags.health,
	}, true)

	switch {
	case actions == 0:
		return ErrNoAction
	case actions > 1:
		return ErrTooManyActions
	default:
		return nil
	}
}

// setup creates the logger and loads the configuration.
func setup(flags appFlags) (*config.Config, *logger.Logger, error) {
	logFileName := logFileNameDefault
	if flags.verbose {
		logFileName = logFileNameVerbose
	}

	log, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf(errFailedToInitLogger, err)
	}

	cfg, err := config.Load(log)
	if err != nil {
		_ = log.Close()

		return nil, nil, fmt.Errorf(errFailedToLoadConfig, err)
	}

	if flags.apiURL != "" {
		cfg.Inference.BaseURL = strings.TrimRight(flags.apiURL, "/")
	}

	return cfg, log, nil
}

// execute dispatches to the selected action.
func execute(
	ctx context.Context,
	apiClient client,
	cfg *config.Config,
	log *logger.Logger,
	flags appFlags,
	stdout io.Writer,
) error {
	switch {
	case flags.health:
		return handleHealthCheck(ctx, apiClient, log, stdout)
	case flags.image != "":
		return classifyImage(ctx, apiClient, cfg, log, flags.image, stdout)
	case flags.images != "":
		return classifyImages(ctx, apiClient, log, splitList(flags.images), stdout)
	case flags.correct != "":
		return correctText(ctx, apiClient, flags.correct, stdout)
	case flags.text != "":
		return synthesizeText(ctx, apiClient, cfg, log, flags.text, flags.output, stdout)
	default:
		chunks, err := inference.ReadChunksFile(flags.chunks)
		if err != nil {
			return err
		}

		return synthesizeChunks(ctx, apiClient, cfg, log, chunks, outputDir(cfg, flags.output), stdout)
	}
}

// handleHealthCheck performs a service health check and prints the result.
func handleHealthCheck(ctx context.Context, apiClient client, log *logger.Logger, stdout io.Writer) error {
	err := apiClient.HealthCheck(ctx)
	if err != nil {
		log.Error("Health check failed: %v", err)
		fmt.Fprintf(stdout, errServiceNotHealthy, err)

		return err
	}

	fmt.Fprintln(stdout, msgServiceHealthy)

	return nil
}

func classifyImage(
	ctx context.Context,
	apiClient client,
	cfg *config.Config,
	log *logger.Logger,
	path string,
	stdout io.Writer,
) error {
	assets, err := loadImages([]string{path})
	if err != nil {
		return err
	}

	log.Info(logClassifying, 1)

	result, err := apiClient.Classify(ctx, assets[0])
	if err != nil {
		log.Error("Failed to classify %s: %v", path, err)
		fmt.Fprintln(stdout, display.ClassifyErrorMessage)

		return err
	}

	for _, prediction := range display.SinglePredictions(result, cfg.Inference.Labels) {
		fmt.Fprintf(stdout, "%s %-6s %3d%%\n",
			display.LabelEmoji(prediction.Label), prediction.Label, display.Percent(prediction.Confidence))
	}

	return nil
}

func classifyImages(
	ctx context.Context,
	apiClient client,
	log *logger.Logger,
	paths []string,
	stdout io.Writer,
) error {
	assets, err := loadImages(paths)
	if err != nil {
		return err
	}

	log.Info(logClassifying, len(assets))

	results, err := apiClient.ClassifyBatch(ctx, assets)
	if err != nil {
		log.Error("Failed to classify batch: %v", err)
		fmt.Fprintln(stdout, display.ClassifyBatchErrorMessage)

		return err
	}

	for _, entry := range display.BatchEntries(results) {
		fmt.Fprintf(stdout, "%-18s %s %-6s %3d%%\n",
			intake.DisplayName(entry.Filename), display.LabelEmoji(entry.ClassName), entry.ClassName, entry.ConfidencePercent)
	}

	return nil
}

func correctText(ctx context.Context, apiClient client, text string, stdout io.Writer) error {
	normalized, err := intake.NormalizeText(text)
	if err != nil {
		return err
	}

	corrected, err := apiClient.Correct(ctx, normalized)
	if err != nil {
		return fmt.Errorf("failed to correct text: %w", err)
	}

	fmt.Fprintln(stdout, corrected)

	return nil
}

// synthesizeText writes one WAV file, or one file per chunk when the text is
// longer than the configured chunk size.
func synthesizeText(
	ctx context.Context,
	apiClient client,
	cfg *config.Config,
	log *logger.Logger,
	text, outputFlag string,
	stdout io.Writer,
) error {
	normalized, err := intake.NormalizeText(text)
	if err != nil {
		return err
	}

	chunks := intake.SplitText(normalized, cfg.Inference.ChunkRunes)
	if len(chunks) > 1 {
		return synthesizeChunks(ctx, apiClient, cfg, log, chunks, outputDir(cfg, outputFlag), stdout)
	}

	outputPath := outputFlag
	if outputPath == "" {
		outputPath = filepath.Join(cfg.Paths.OutputDir, defaultOutputFile)
	}

	engine := inference.NewEngine(apiClient, cfg.Inference.Workers, log)

	err = engine.SynthesizeToFile(ctx, normalized, outputPath)
	if err != nil {
		log.Error("Failed to synthesize text: %v", err)

		return fmt.Errorf("failed to synthesize text: %w", err)
	}

	fmt.Fprintf(stdout, logGenerated, outputPath)

	return nil
}

func synthesizeChunks(
	ctx context.Context,
	apiClient client,
	cfg *config.Config,
	log *logger.Logger,
	chunks []string,
	outputDir string,
	stdout io.Writer,
) error {
	log.Info(logSynthesizing, len(chunks), outputDir)

	engine := inference.NewEngine(apiClient, cfg.Inference.Workers, log)

	outputs, err := engine.SynthesizeChunks(ctx, chunks, outputDir)
	for _, output := range lo.Compact(outputs) {
		fmt.Fprintf(stdout, logGenerated, output)
	}

	if err != nil {
		log.Error("Failed to synthesize chunks: %v", err)

		return fmt.Errorf("failed to synthesize chunks: %w", err)
	}

	return nil
}

// loadImages reads and validates image files.
func loadImages(paths []string) ([]core.Asset, error) {
	assets := make([]core.Asset, 0, len(paths))

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}

		asset, err := intake.Accept(filepath.Base(path), "", data)
		if err != nil {
			return nil, err
		}

		assets = append(assets, asset)
	}

	return assets, nil
}

func splitList(value string) []string {
	return lo.Compact(lo.Map(strings.Split(value, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	}))
}

func outputDir(cfg *config.Config, outputFlag string) string {
	if outputFlag != "" {
		return outputFlag
	}

	return cfg.Paths.OutputDir
}
