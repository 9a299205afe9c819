package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"traitpair/internal/design"
	apperrors "traitpair/internal/errors"
	logging "traitpair/internal/logging"
	"traitpair/internal/models"
	"traitpair/internal/tracker"
)

// EnvPrefix prefixes every environment override, e.g. TRAITPAIR_DATA_DIRECTORY.
const EnvPrefix = "TRAITPAIR"

// Config is the experiment configuration. It is built once by Load and not
// modified afterwards.
type Config struct {
	Experiment ExperimentConfig `mapstructure:"experiment"`
	Timing     TimingConfig     `mapstructure:"timing"`
	Stimuli    StimuliConfig    `mapstructure:"stimuli"`
	Design     DesignConfig     `mapstructure:"design"`
	Response   ResponseConfig   `mapstructure:"response"`
	Display    DisplayConfig    `mapstructure:"display"`
	EyeTracker EyeTrackerConfig `mapstructure:"eyetracker"`
	Data       DataConfig       `mapstructure:"data"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Logging    LoggingConfig    `mapstructure:"logging"`

	// Set by Load.
	Root   string             `mapstructure:"-"`
	File   string             `mapstructure:"-"`
	Traits []models.TraitSpec `mapstructure:"-"`
}

type ExperimentConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// TimingConfig durations are in seconds.
type TimingConfig struct {
	Fixation        float64 `mapstructure:"fixation"`
	Video           float64 `mapstructure:"video"`
	ITI             float64 `mapstructure:"iti"`
	ResponseTimeout float64 `mapstructure:"response_timeout"` // 0 waits forever
	BreakMinimum    float64 `mapstructure:"break_minimum"`
}

type StimuliConfig struct {
	BaseDir    string `mapstructure:"base_dir"`
	TraitsFile string `mapstructure:"traits_file"` // empty: scan base_dir
	Extension  string `mapstructure:"extension"`
}

type DesignConfig struct {
	Pairing             string `mapstructure:"pairing"`
	SampleSize          int    `mapstructure:"sample_size"`
	RandomizeOrder      bool   `mapstructure:"randomize_order"`
	RandomizePositions  bool   `mapstructure:"randomize_positions"`
	MinTraitSpacing     int    `mapstructure:"min_trait_spacing"`
	MaxAttempts         int    `mapstructure:"max_attempts"`
	StrictSpacing       bool   `mapstructure:"strict_spacing"`
	Practice            bool   `mapstructure:"practice"`
	PracticeTrials      int    `mapstructure:"practice_trials"`
	Breaks              bool   `mapstructure:"breaks"`
	TrialsBetweenBreaks int    `mapstructure:"trials_between_breaks"`
	Seed                int64  `mapstructure:"seed"` // 0 picks a time-based seed
}

type ResponseConfig struct {
	Confidence bool `mapstructure:"confidence"`
}

// DisplayConfig is the screen geometry in pixels, used for interest areas.
type DisplayConfig struct {
	ScreenWidth         int `mapstructure:"screen_width"`
	ScreenHeight        int `mapstructure:"screen_height"`
	RefreshRate         int `mapstructure:"refresh_rate"`
	VideoWidth          int `mapstructure:"video_width"`
	VideoHeight         int `mapstructure:"video_height"`
	VideoSeparation     int `mapstructure:"video_separation"`
	InterestAreaPadding int `mapstructure:"interest_area_padding"`
}

type EyeTrackerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Address         string        `mapstructure:"address"`
	SampleRate      int           `mapstructure:"sample_rate"`
	CalibrationType string        `mapstructure:"calibration_type"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	QueueSize       int           `mapstructure:"queue_size"`
	DataDir         string        `mapstructure:"data_dir"`
	FilePrefix      string        `mapstructure:"file_prefix"`
}

type DataConfig struct {
	Directory string `mapstructure:"directory"`
	Prefix    string `mapstructure:"prefix"`
	Format    string `mapstructure:"format"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
}

// LoggingConfig holds settings for the logger.
type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	Level      string `mapstructure:"level"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// setDefaults sets the default values for the configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("experiment.name", "pairwise_personality")
	v.SetDefault("experiment.version", "1.0")

	v.SetDefault("timing.fixation", 1.0)
	v.SetDefault("timing.video", 16.0)
	v.SetDefault("timing.iti", 0.5)
	v.SetDefault("timing.response_timeout", 0.0)
	v.SetDefault("timing.break_minimum", 0.0)

	v.SetDefault("stimuli.base_dir", "stimuli/videos/study_videos")
	v.SetDefault("stimuli.traits_file", "")
	v.SetDefault("stimuli.extension", ".mp4")

	v.SetDefault("design.pairing", string(design.FullFactorial))
	v.SetDefault("design.sample_size", 0)
	v.SetDefault("design.randomize_order", true)
	v.SetDefault("design.randomize_positions", true)
	v.SetDefault("design.min_trait_spacing", 2)
	v.SetDefault("design.max_attempts", design.DefaultMaxAttempts)
	v.SetDefault("design.strict_spacing", false)
	v.SetDefault("design.practice", true)
	v.SetDefault("design.practice_trials", 3)
	v.SetDefault("design.breaks", true)
	v.SetDefault("design.trials_between_breaks", 20)
	v.SetDefault("design.seed", 0)

	v.SetDefault("response.confidence", false)

	v.SetDefault("display.screen_width", 1920)
	v.SetDefault("display.screen_height", 1080)
	v.SetDefault("display.refresh_rate", 60)
	v.SetDefault("display.video_width", 640)
	v.SetDefault("display.video_height", 480)
	v.SetDefault("display.video_separation", 100)
	v.SetDefault("display.interest_area_padding", 20)

	v.SetDefault("eyetracker.enabled", false)
	v.SetDefault("eyetracker.address", "100.1.1.1:4000")
	v.SetDefault("eyetracker.sample_rate", 1000)
	v.SetDefault("eyetracker.calibration_type", "HV9")
	v.SetDefault("eyetracker.dial_timeout", "5s")
	v.SetDefault("eyetracker.queue_size", 256)
	v.SetDefault("eyetracker.data_dir", "eyelink_data")
	v.SetDefault("eyetracker.file_prefix", "el")

	v.SetDefault("data.directory", "data")
	v.SetDefault("data.prefix", "pairwise")
	v.SetDefault("data.format", "csv")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.driver", "sqlite")
	v.SetDefault("archive.dsn", "data/archive.db")

	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size", 10)   // 10 MB
	v.SetDefault("logging.max_backups", 3) // Keep 3 backups
	v.SetDefault("logging.max_age", 7)     // 7 days
	v.SetDefault("logging.compress", true) // Compress old logs
}

// LoadEnv reads <projectRoot>/.env into the process environment. A missing
// file is not an error; variables already set win.
func LoadEnv(projectRoot string) error {
	err := godotenv.Load(filepath.Join(projectRoot, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.WithCode(apperrors.CodeConfiguration, fmt.Errorf("read .env: %w", err))
	}
	return nil
}

// Load reads config/config.yaml under projectRoot, applies TRAITPAIR_*
// environment overrides, validates the result and loads the trait
// definitions.
func Load(projectRoot string, log *zap.Logger) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(filepath.Join(projectRoot, "config"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// It's okay if the file doesn't exist; defaults and env vars will be used.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperrors.WithCode(apperrors.CodeConfiguration, fmt.Errorf("error reading config file: %w", err))
		}
		log.Info("No config file found; using defaults", zap.String("root", projectRoot))
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeConfiguration, fmt.Errorf("unable to decode config into struct: %w", err))
	}
	cfg.Root = projectRoot
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.loadTraits(log); err != nil {
		return nil, err
	}

	log.Info("Configuration loaded",
		zap.String("file", cfg.File),
		zap.String("experiment", cfg.Experiment.Name),
		zap.Int("traits", len(cfg.Traits)))
	return cfg, nil
}

// Validate checks every setting that does not need the file system.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Timing.Fixation < 0 || c.Timing.Video <= 0 || c.Timing.ITI < 0 {
		add("timing: fixation and iti must be >= 0 and video > 0")
	}
	if c.Display.RefreshRate < 0 {
		add("display.refresh_rate must be >= 0")
	}
	if c.Timing.ResponseTimeout < 0 || c.Timing.BreakMinimum < 0 {
		add("timing.response_timeout and timing.break_minimum must be >= 0")
	}
	if _, err := design.ParsePairing(c.Design.Pairing, c.Design.SampleSize); err != nil {
		add("design.pairing: %v", err)
	}
	if c.Design.MinTraitSpacing < 0 {
		add("design.min_trait_spacing must be >= 0, got %d", c.Design.MinTraitSpacing)
	}
	if c.Design.Practice && c.Design.PracticeTrials < 0 {
		add("design.practice_trials must be >= 0")
	}
	if c.Design.Breaks && c.Design.TrialsBetweenBreaks <= 0 {
		add("design.trials_between_breaks must be > 0 when breaks are enabled")
	}
	if c.EyeTracker.Enabled {
		if c.EyeTracker.Address == "" {
			add("eyetracker.address is required when the tracker is enabled")
		}
		if !tracker.ValidSampleRate(c.EyeTracker.SampleRate) {
			add("eyetracker.sample_rate must be one of %v, got %d", tracker.SampleRates, c.EyeTracker.SampleRate)
		}
		if !tracker.ValidCalibrationType(c.EyeTracker.CalibrationType) {
			add("eyetracker.calibration_type must be one of %v, got %q", tracker.CalibrationTypes, c.EyeTracker.CalibrationType)
		}
	}
	switch c.Data.Format {
	case "csv", "json":
	default:
		add("data.format must be csv or json, got %q", c.Data.Format)
	}
	if c.Data.Prefix == "" {
		add("data.prefix must not be empty")
	}
	if c.Archive.Enabled {
		switch c.Archive.Driver {
		case "sqlite", "postgres":
		default:
			add("archive.driver must be sqlite or postgres, got %q", c.Archive.Driver)
		}
		if c.Archive.DSN == "" {
			add("archive.dsn is required when the archive is enabled")
		}
	}

	if len(problems) > 0 {
		return apperrors.Configuration("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) loadTraits(log *zap.Logger) error {
	if c.Stimuli.TraitsFile != "" {
		traits, err := models.LoadTraits(c.Path(c.Stimuli.TraitsFile))
		if err != nil {
			return err
		}
		c.Traits = traits
		return nil
	}

	traits, warnings, err := design.LoadStimuliDir(c.Path(c.Stimuli.BaseDir), models.KnownTraits, c.Stimuli.Extension)
	for _, w := range warnings {
		log.Warn("Stimulus scan", zap.String("warning", w))
	}
	if err != nil {
		return err
	}
	c.Traits = traits
	return nil
}

// Path resolves p against the project root unless it is absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// DesignOptions converts the design section for the trial designer.
func (c *Config) DesignOptions() (design.Options, error) {
	pairing, err := design.ParsePairing(c.Design.Pairing, c.Design.SampleSize)
	if err != nil {
		return design.Options{}, err
	}
	return design.Options{
		Pairing:         pairing,
		RandomizeOrder:  c.Design.RandomizeOrder,
		MinTraitGap:     c.Design.MinTraitSpacing,
		BalancePosition: c.Design.RandomizePositions,
		MaxAttempts:     c.Design.MaxAttempts,
		Strict:          c.Design.StrictSpacing,
		StimulusDir:     c.Path(c.Stimuli.BaseDir),
	}, nil
}

// TrackerOptions converts the eyetracker section for tracker.Open.
func (c *Config) TrackerOptions() tracker.Options {
	return tracker.Options{
		Enabled:         c.EyeTracker.Enabled,
		Address:         c.EyeTracker.Address,
		SampleRate:      c.EyeTracker.SampleRate,
		CalibrationType: c.EyeTracker.CalibrationType,
		DialTimeout:     c.EyeTracker.DialTimeout,
		QueueSize:       c.EyeTracker.QueueSize,
		FilePrefix:      c.EyeTracker.FilePrefix,
	}
}

// LoggerOptions converts the logging section for logging.Init, which
// resolves the directory against the project root itself.
func (c *Config) LoggerOptions() logging.Options {
	return logging.Options{
		Directory:  c.Logging.Directory,
		Level:      c.Logging.Level,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
		Compress:   c.Logging.Compress,
	}
}

// TraitNames lists the configured traits in declaration order.
func (c *Config) TraitNames() []string {
	names := make([]string, len(c.Traits))
	for i, t := range c.Traits {
		names[i] = t.Name
	}
	return names
}

// Watch warns when the config file changes while a session runs. The
// running session keeps the configuration it started with.
func Watch(cfg *Config, log *zap.Logger) {
	if cfg.File == "" {
		return
	}
	v := viper.New()
	v.SetConfigFile(cfg.File)
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Warn("Configuration file changed; changes apply to the next session",
			zap.String("file", e.Name), zap.String("op", e.Op.String()))
	})
	v.WatchConfig()
}
