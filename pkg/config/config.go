package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const DefaultFileName = "config.yaml"

// Config captures the user-adjustable knobs for recording sessions.
type Config struct {
	Paths   PathsConfig
	Capture CaptureConfig
	Logging LoggingConfig

	// Source indicates where the configuration originated (defaults or a file path).
	Source string
}

// PathsConfig controls filesystem locations used by the CLI.
type PathsConfig struct {
	OutputDir  string
	ScratchDir string
}

// CaptureConfig toggles optional tracks and tunes the capture engine.
type CaptureConfig struct {
	WebcamEnabled     bool
	MicrophoneEnabled bool

	Video      VideoConfig
	Webcam     WebcamConfig
	Microphone MicrophoneConfig
	Tracking   TrackingConfig
}

// VideoConfig tunes the primary capture strategy.
type VideoConfig struct {
	Format          string
	ChunkIntervalMs int
}

// WebcamConfig tunes the webcam track.
type WebcamConfig struct {
	Format string
	Width  int
	Height int
}

// MicrophoneConfig tunes the microphone track.
type MicrophoneConfig struct {
	Format string
}

// TrackingConfig tunes the input event tracking service.
type TrackingConfig struct {
	Enabled            bool
	BatchSize          int
	FlushIntervalMs    int
	SamplingIntervalMs int
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string
	Format string
}

// Default returns the baseline configuration used when no overrides are supplied.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			OutputDir:  "recordings",
			ScratchDir: "scratch",
		},
		Capture: CaptureConfig{
			WebcamEnabled:     false,
			MicrophoneEnabled: false,
			Video: VideoConfig{
				Format:          "webm",
				ChunkIntervalMs: 250,
			},
			Webcam: WebcamConfig{
				Format: "webm",
				Width:  1280,
				Height: 720,
			},
			Microphone: MicrophoneConfig{
				Format: "ogg",
			},
			Tracking: TrackingConfig{
				Enabled:            true,
				BatchSize:          100,
				FlushIntervalMs:    1000,
				SamplingIntervalMs: 16,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Source: "<defaults>",
	}
}

// Load reads configuration from disk if present, otherwise returning defaults.
// When path is empty, the loader attempts to read ./config.yaml but tolerates a missing file.
func Load(path string) (Config, error) {
	cfg := Default()

	candidate := strings.TrimSpace(path)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}

	file, err := os.Open(candidate)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return cfg, fmt.Errorf("config file %q not found", candidate)
			}
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config file %q: %w", candidate, err)
	}
	defer file.Close()

	if err := decodeYAML(file, &cfg); err != nil {
		return cfg, err
	}
	cfg.Source = candidate
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate ensures essential configuration values are present and sensible.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.ScratchDir) == "" {
		return errors.New("paths.scratch_dir must not be empty")
	}

	if _, err := NormalizeLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := NormalizeFormat(c.Logging.Format); err != nil {
		return err
	}

	if strings.TrimSpace(c.Capture.Video.Format) == "" {
		return errors.New("capture.video.format must not be empty")
	}
	if c.Capture.Video.ChunkIntervalMs <= 0 {
		return errors.New("capture.video.chunk_interval_ms must be positive")
	}
	if strings.TrimSpace(c.Capture.Webcam.Format) == "" {
		return errors.New("capture.webcam.format must not be empty")
	}
	if c.Capture.Webcam.Width <= 0 || c.Capture.Webcam.Height <= 0 {
		return errors.New("capture.webcam dimensions must be positive")
	}
	if strings.TrimSpace(c.Capture.Microphone.Format) == "" {
		return errors.New("capture.microphone.format must not be empty")
	}
	if c.Capture.Tracking.BatchSize <= 0 {
		return errors.New("capture.tracking.batch_size must be positive")
	}
	if c.Capture.Tracking.FlushIntervalMs <= 0 {
		return errors.New("capture.tracking.flush_interval_ms must be positive")
	}
	if c.Capture.Tracking.SamplingIntervalMs <= 0 {
		return errors.New("capture.tracking.sampling_interval_ms must be positive")
	}

	return nil
}

// decodeYAML ingests a small subset of YAML to avoid external dependencies.
type yamlFrame struct {
	indent int
	key    string
}

func decodeYAML(r io.Reader, cfg *Config) error {
	scanner := bufio.NewScanner(r)
	var stack []yamlFrame

	lineNo := 0
	for scanner.Scan() {
		raw := scanner.Text()
		lineNo++

		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		indent := countIndent(raw)
		if indent%2 != 0 {
			return fmt.Errorf("line %d: indentation must be multiples of two spaces", lineNo)
		}

		for len(stack) > 0 && indent <= stack[len(stack)-1].indent {
			stack = stack[:len(stack)-1]
		}

		key, value, hasValue := splitKeyValue(trimmed)
		if !hasValue {
			stack = append(stack, yamlFrame{indent: indent, key: key})
			continue
		}

		if err := applyValue(cfg, stack, key, value); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	return nil
}

func countIndent(line string) int {
	count := 0
	for _, r := range line {
		if r != ' ' {
			break
		}
		count++
	}
	return count
}

func splitKeyValue(line string) (string, string, bool) {
	parts := strings.SplitN(line, ":", 2)
	key := strings.TrimSpace(parts[0])
	if len(parts) < 2 {
		return key, "", false
	}
	value := strings.TrimSpace(parts[1])
	if value == "" {
		return key, "", false
	}
	return key, value, true
}

func applyValue(cfg *Config, stack []yamlFrame, key, rawValue string) error {
	value := sanitizeValue(rawValue)
	path := make([]string, 0, len(stack)+1)
	for _, fr := range stack {
		path = append(path, fr.key)
	}
	path = append(path, key)

	switch strings.Join(path, ".") {
	case "paths.output_dir":
		cfg.Paths.OutputDir = value
	case "paths.scratch_dir":
		cfg.Paths.ScratchDir = value
	case "capture.webcam_enabled":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("capture.webcam_enabled: %w", err)
		}
		cfg.Capture.WebcamEnabled = b
	case "capture.microphone_enabled":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("capture.microphone_enabled: %w", err)
		}
		cfg.Capture.MicrophoneEnabled = b
	case "capture.video.format":
		cfg.Capture.Video.Format = strings.ToLower(value)
	case "capture.video.chunk_interval_ms":
		ms, err := parseInt(value)
		if err != nil {
			return fmt.Errorf("capture.video.chunk_interval_ms: %w", err)
		}
		cfg.Capture.Video.ChunkIntervalMs = ms
	case "capture.webcam.format":
		cfg.Capture.Webcam.Format = strings.ToLower(value)
	case "capture.webcam.width":
		width, err := parseInt(value)
		if err != nil {
			return fmt.Errorf("capture.webcam.width: %w", err)
		}
		cfg.Capture.Webcam.Width = width
	case "capture.webcam.height":
		height, err := parseInt(value)
		if err != nil {
			return fmt.Errorf("capture.webcam.height: %w", err)
		}
		cfg.Capture.Webcam.Height = height
	case "capture.microphone.format":
		cfg.Capture.Microphone.Format = strings.ToLower(value)
	case "capture.tracking.enabled":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("capture.tracking.enabled: %w", err)
		}
		cfg.Capture.Tracking.Enabled = b
	case "capture.tracking.batch_size":
		size, err := parseInt(value)
		if err != nil {
			return fmt.Errorf("capture.tracking.batch_size: %w", err)
		}
		cfg.Capture.Tracking.BatchSize = size
	case "capture.tracking.flush_interval_ms":
		ms, err := parseInt(value)
		if err != nil {
			return fmt.Errorf("capture.tracking.flush_interval_ms: %w", err)
		}
		cfg.Capture.Tracking.FlushIntervalMs = ms
	case "capture.tracking.sampling_interval_ms":
		ms, err := parseInt(value)
		if err != nil {
			return fmt.Errorf("capture.tracking.sampling_interval_ms: %w", err)
		}
		cfg.Capture.Tracking.SamplingIntervalMs = ms
	case "logging.level":
		cfg.Logging.Level = strings.ToLower(value)
	case "logging.format":
		cfg.Logging.Format = strings.ToLower(value)
	default:
		return fmt.Errorf("unknown key %q", strings.Join(path, "."))
	}

	return nil
}

func sanitizeValue(raw string) string {
	value := raw
	if idx := strings.Index(value, " #"); idx >= 0 {
		value = value[:idx]
	}
	if idx := strings.Index(value, "\t#"); idx >= 0 {
		value = value[:idx]
	}
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "'\"")
	return value
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "yes", "on":
		return true, nil
	case "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", value)
	}
}

func parseInt(value string) (int, error) {
	var i int
	_, err := fmt.Sscanf(value, "%d", &i)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value %q", value)
	}
	return i, nil
}

func (c *Config) normalize() {
	c.Paths.OutputDir = filepath.Clean(strings.TrimSpace(c.Paths.OutputDir))
	c.Paths.ScratchDir = filepath.Clean(strings.TrimSpace(c.Paths.ScratchDir))

	defaults := Default()

	if c.Paths.OutputDir == "." || c.Paths.OutputDir == "" {
		c.Paths.OutputDir = defaults.Paths.OutputDir
	}
	if c.Paths.ScratchDir == "." || c.Paths.ScratchDir == "" {
		c.Paths.ScratchDir = defaults.Paths.ScratchDir
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = defaults.Logging.Format
	}

	if strings.TrimSpace(c.Capture.Video.Format) == "" {
		c.Capture.Video.Format = defaults.Capture.Video.Format
	}
	if c.Capture.Video.ChunkIntervalMs <= 0 {
		c.Capture.Video.ChunkIntervalMs = defaults.Capture.Video.ChunkIntervalMs
	}
	if strings.TrimSpace(c.Capture.Webcam.Format) == "" {
		c.Capture.Webcam.Format = defaults.Capture.Webcam.Format
	}
	if c.Capture.Webcam.Width <= 0 {
		c.Capture.Webcam.Width = defaults.Capture.Webcam.Width
	}
	if c.Capture.Webcam.Height <= 0 {
		c.Capture.Webcam.Height = defaults.Capture.Webcam.Height
	}
	if strings.TrimSpace(c.Capture.Microphone.Format) == "" {
		c.Capture.Microphone.Format = defaults.Capture.Microphone.Format
	}
	if c.Capture.Tracking.BatchSize <= 0 {
		c.Capture.Tracking.BatchSize = defaults.Capture.Tracking.BatchSize
	}
	if c.Capture.Tracking.FlushIntervalMs <= 0 {
		c.Capture.Tracking.FlushIntervalMs = defaults.Capture.Tracking.FlushIntervalMs
	}
	if c.Capture.Tracking.SamplingIntervalMs <= 0 {
		c.Capture.Tracking.SamplingIntervalMs = defaults.Capture.Tracking.SamplingIntervalMs
	}
}

// NormalizeLogLevel validates and lowercases known logging levels.
func NormalizeLogLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return "info", nil
	case "debug":
		return "debug", nil
	case "warn", "warning":
		return "warn", nil
	case "error":
		return "error", nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}

// NormalizeFormat validates and canonicalizes logging format identifiers.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return "json", nil
	case "console", "text":
		return "console", nil
	default:
		return "", fmt.Errorf("unsupported log format %q", format)
	}
}
