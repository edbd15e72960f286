package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/colligo/internal/models"
)

// Config represents the application configuration. Every credential, URL and
// threshold the pipeline uses comes from here; nothing is hardcoded in the
// run path.
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Source      SourceConfig   `toml:"source"`
	Target      TargetConfig   `toml:"target"`
	Harvest     HarvestConfig  `toml:"harvest"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
	Schedule    ScheduleConfig `toml:"schedule"`
}

// SourceConfig describes the listing portal the run scans.
type SourceConfig struct {
	URL            string `toml:"url" validate:"required,url"` // Portal entry URL
	Email          string `toml:"email"`                       // Portal login email
	Password       string `toml:"password"`                    // Portal login password
	ResultsPerPage int    `toml:"results_per_page" validate:"gt=0"`
	UserAgent      string `toml:"user_agent"`
	Headless       bool   `toml:"headless"` // Run the browser headless
}

// TargetConfig describes the remote document library artifacts are relayed to.
type TargetConfig struct {
	SiteURL   string `toml:"site_url" validate:"required,url"`   // Library site root (login entry)
	FolderURL string `toml:"folder_url" validate:"required,url"` // Destination folder view
	Email     string `toml:"email"`
	Password  string `toml:"password"`
	// ConfirmSelector identifies the element that appears once an upload has
	// landed in the folder view. When set, relay polls for it instead of
	// blind-waiting. Leave empty only for libraries with no usable signal.
	ConfirmSelector string        `toml:"confirm_selector"`
	SettleDelay     time.Duration `toml:"settle_delay"` // Fallback wait when no confirm selector is set
}

// HarvestConfig holds the run parameters: recency window, criteria rules,
// download polling and pacing.
type HarvestConfig struct {
	WindowDays    int           `toml:"window_days" validate:"gte=0"` // Trailing window on first run (no watermark yet)
	PollInterval  time.Duration `toml:"poll_interval"`                // Download completion poll interval
	Timeout       time.Duration `toml:"timeout"`                      // Download completion timeout
	SettleTimeout time.Duration `toml:"settle_timeout"`               // Upload confirmation poll timeout
	RequestDelay  time.Duration `toml:"request_delay"`                // Minimum delay between detail-page navigations
	DownloadDir   string        `toml:"download_dir"`
	Rules         []RuleConfig  `toml:"rules" validate:"min=1,dive"`
}

// RuleConfig is one configured criteria rule: an OR-list of distance/amount
// clauses, optionally with a gross-amount divisor applied before comparison.
type RuleConfig struct {
	Name          string         `toml:"name" validate:"required"`
	AmountDivisor float64        `toml:"amount_divisor" validate:"gte=0"` // e.g. 1.19 to compare net of VAT
	Clauses       []ClauseConfig `toml:"clauses" validate:"min=1,dive"`
}

// ClauseConfig is a single distance/amount predicate.
type ClauseConfig struct {
	Distance   string  `toml:"distance" validate:"oneof=lte gt"` // "lte" or "gt"
	DistanceKm float64 `toml:"distance_km" validate:"gte=0"`
	MinAmount  float64 `toml:"min_amount" validate:"gte=0"`
}

// StorageConfig groups durable state locations.
type StorageConfig struct {
	WatermarkPath string       `toml:"watermark_path"` // JSON watermark state file
	Badger        BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration for run history.
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// ScheduleConfig enables cron-driven repeated runs. Off by default; the
// primary mode is a single pass.
type ScheduleConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"` // Standard 5-field cron expression
}

// NewDefaultConfig returns the configuration defaults. Files, environment
// variables and CLI flags layer on top in that order.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Source: SourceConfig{
			ResultsPerPage: 100,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Headless:       true,
		},
		Target: TargetConfig{
			SettleDelay: 15 * time.Second, // Matches observed worst-case upload settle
		},
		Harvest: HarvestConfig{
			WindowDays:    30,
			PollInterval:  500 * time.Millisecond,
			Timeout:       30 * time.Second,
			SettleTimeout: 60 * time.Second,
			RequestDelay:  1 * time.Second,
			DownloadDir:   "./downloads",
			Rules: []RuleConfig{
				{
					Name:          "regional-large-projects",
					AmountDivisor: 0,
					Clauses: []ClauseConfig{
						{Distance: "lte", DistanceKm: 100, MinAmount: 1500000},
					},
				},
			},
		},
		Storage: StorageConfig{
			WatermarkPath: "./data/watermark.json",
			Badger: BadgerConfig{
				Path:           "./data/colligo.db",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			Cron:    "0 6 * * *", // Daily at 06:00 when enabled
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// Validate checks the assembled configuration before a run starts.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// CriteriaRules converts the configured rules into evaluator form.
func (c *Config) CriteriaRules() []models.CriteriaRule {
	rules := make([]models.CriteriaRule, 0, len(c.Harvest.Rules))
	for _, rc := range c.Harvest.Rules {
		rule := models.CriteriaRule{
			Name:          rc.Name,
			AmountDivisor: rc.AmountDivisor,
		}
		for _, cc := range rc.Clauses {
			rule.Clauses = append(rule.Clauses, models.Clause{
				DistanceCmp: models.DistanceCmp(cc.Distance),
				DistanceKm:  cc.DistanceKm,
				MinAmount:   cc.MinAmount,
			})
		}
		rules = append(rules, rule)
	}
	return rules
}

// applyEnvOverrides applies COLLIGO_* environment variable overrides.
// Environment variables take precedence over config files; credentials are
// typically supplied this way rather than written into the TOML.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Source portal
	if url := os.Getenv("COLLIGO_SOURCE_URL"); url != "" {
		config.Source.URL = url
	}
	if email := os.Getenv("COLLIGO_SOURCE_EMAIL"); email != "" {
		config.Source.Email = email
	}
	if password := os.Getenv("COLLIGO_SOURCE_PASSWORD"); password != "" {
		config.Source.Password = password
	}
	if headless := os.Getenv("COLLIGO_SOURCE_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Source.Headless = h
		}
	}

	// Target library
	if url := os.Getenv("COLLIGO_TARGET_SITE_URL"); url != "" {
		config.Target.SiteURL = url
	}
	if url := os.Getenv("COLLIGO_TARGET_FOLDER_URL"); url != "" {
		config.Target.FolderURL = url
	}
	if email := os.Getenv("COLLIGO_TARGET_EMAIL"); email != "" {
		config.Target.Email = email
	}
	if password := os.Getenv("COLLIGO_TARGET_PASSWORD"); password != "" {
		config.Target.Password = password
	}

	// Harvest parameters
	if days := os.Getenv("COLLIGO_WINDOW_DAYS"); days != "" {
		if d, err := strconv.Atoi(days); err == nil {
			config.Harvest.WindowDays = d
		}
	}
	if dir := os.Getenv("COLLIGO_DOWNLOAD_DIR"); dir != "" {
		config.Harvest.DownloadDir = dir
	}

	// Storage
	if path := os.Getenv("COLLIGO_WATERMARK_PATH"); path != "" {
		config.Storage.WatermarkPath = path
	}
	if path := os.Getenv("COLLIGO_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	// Logging
	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("COLLIGO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}
