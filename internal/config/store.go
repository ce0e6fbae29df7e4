package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"exocal-client/internal/domain"
)

// EnvPrefix namespaces environment overrides, e.g. EXOCAL_SERVICE_BASE.
const EnvPrefix = "EXOCAL"

// Store defines persistence operations for client settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// FileStore reads settings from a YAML file layered under environment
// variables and, when bound, command line flags. It writes back YAML.
type FileStore struct {
	path  string
	flags *pflag.FlagSet
}

// NewFileStore creates a YAML-backed settings store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// BindFlags makes changed flags override every other source. A flag named
// like a settings key with dashes (e.g. --service-base) binds to that key.
func (s *FileStore) BindFlags(fs *pflag.FlagSet) {
	s.flags = fs
}

// Path returns the settings file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load merges defaults, the settings file (if present), EXOCAL_* env vars
// and bound flags, in increasing precedence.
func (s *FileStore) Load() (domain.Settings, error) {
	v := viper.New()
	setDefaults(v, DefaultSettings())
	if err := s.bindFlags(v); err != nil {
		return domain.Settings{}, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetConfigFile(s.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if !isMissingFile(err) {
			return domain.Settings{}, fmt.Errorf("read settings %s: %w", s.path, err)
		}
	}

	var cfg domain.Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}

	return cfg, nil
}

// Save writes settings as YAML and creates parent directories.
func (s *FileStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(fileSettings(cfg))
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// settingsFile is the on-disk layout; durations are written as strings so
// the file stays hand-editable.
type settingsFile struct {
	ServiceBase          string  `yaml:"service_base"`
	OutputDir            string  `yaml:"output_dir"`
	LimitTargets         int     `yaml:"limit_targets"`
	Seed                 int     `yaml:"seed"`
	PollInterval         string  `yaml:"poll_interval"`
	PollMaxAttempts      int     `yaml:"poll_max_attempts"`
	PollTransportRetries int     `yaml:"poll_transport_retries"`
	RequestTimeout       string  `yaml:"request_timeout"`
	RequestsPerSecond    float64 `yaml:"requests_per_second"`
	OTLPEndpoint         string  `yaml:"otlp_endpoint,omitempty"`
	LogLevel             string  `yaml:"log_level"`
}

func fileSettings(cfg domain.Settings) settingsFile {
	return settingsFile{
		ServiceBase:          cfg.ServiceBase,
		OutputDir:            cfg.OutputDir,
		LimitTargets:         cfg.LimitTargets,
		Seed:                 cfg.Seed,
		PollInterval:         cfg.PollInterval.String(),
		PollMaxAttempts:      cfg.PollMaxAttempts,
		PollTransportRetries: cfg.PollTransportRetries,
		RequestTimeout:       cfg.RequestTimeout.String(),
		RequestsPerSecond:    cfg.RequestsPerSecond,
		OTLPEndpoint:         cfg.OTLPEndpoint,
		LogLevel:             cfg.LogLevel,
	}
}

var settingsKeys = []string{
	"service_base", "output_dir", "limit_targets", "seed",
	"poll_interval", "poll_max_attempts", "poll_transport_retries",
	"request_timeout", "requests_per_second", "otlp_endpoint", "log_level",
}

func (s *FileStore) bindFlags(v *viper.Viper) error {
	if s.flags == nil {
		return nil
	}
	for _, key := range settingsKeys {
		f := s.flags.Lookup(strings.ReplaceAll(key, "_", "-"))
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, d domain.Settings) {
	v.SetDefault("service_base", d.ServiceBase)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("limit_targets", d.LimitTargets)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("poll_max_attempts", d.PollMaxAttempts)
	v.SetDefault("poll_transport_retries", d.PollTransportRetries)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("otlp_endpoint", d.OTLPEndpoint)
	v.SetDefault("log_level", d.LogLevel)
}

func isMissingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

var settingsValidator = validator.New()

// NormalizeSettings trims user input and replaces invalid values with
// defaults. Out-of-range parameters never fail a submission.
func NormalizeSettings(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	settings.ServiceBase = strings.TrimRight(strings.TrimSpace(settings.ServiceBase), "/")
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.LogLevel = strings.ToLower(strings.TrimSpace(settings.LogLevel))

	params := settings.Parameters().Normalize()
	settings.LimitTargets = params.LimitTargets
	settings.Seed = params.Seed

	err := settingsValidator.Struct(settings)
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return settings
	}
	for _, fe := range invalid {
		switch fe.StructField() {
		case "ServiceBase":
			settings.ServiceBase = defaults.ServiceBase
		case "OutputDir":
			settings.OutputDir = defaults.OutputDir
		case "PollInterval":
			settings.PollInterval = defaults.PollInterval
		case "PollMaxAttempts":
			settings.PollMaxAttempts = 0
		case "PollTransportRetries":
			settings.PollTransportRetries = 0
		case "RequestTimeout":
			settings.RequestTimeout = defaults.RequestTimeout
		case "RequestsPerSecond":
			settings.RequestsPerSecond = 0
		case "LogLevel":
			settings.LogLevel = defaults.LogLevel
		}
	}
	return settings
}
