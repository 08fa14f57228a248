package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// Built-in defaults.
const (
	DefaultWorkers          = 4
	DefaultSummaryLength    = 42
	DefaultSuggestThreshold = 0.85
	DefaultStaleAfterDays   = 180
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "auto"
)

type ResolvedValue struct {
	Value  string      `json:"value" yaml:"value"`
	Source ValueSource `json:"source" yaml:"source"`
	From   string      `json:"from,omitempty" yaml:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath   string
	CLIDBPath    string
	CLILogLevel  string
	CLILogFormat string
	CLIWorkers   string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path" yaml:"config_path"`

	DBPath    ResolvedValue `json:"db_path" yaml:"db_path"`
	LogLevel  ResolvedValue `json:"log_level" yaml:"log_level"`
	LogFormat ResolvedValue `json:"log_format" yaml:"log_format"`

	Workers          ResolvedValue `json:"workers" yaml:"workers"`
	SummaryLength    ResolvedValue `json:"summary_length" yaml:"summary_length"`
	SuggestThreshold ResolvedValue `json:"suggest_threshold" yaml:"suggest_threshold"`

	Policies PolicyConfig `json:"policies" yaml:"policies"`
}

// PolicyConfig configures the lifecycle policy runner.
type PolicyConfig struct {
	StaleOutdate StaleOutdatePolicy `json:"stale_outdate" yaml:"stale_outdate"`
}

// StaleOutdatePolicy proposes outdating accepted claims not re-verified for
// AfterDays. Disabled unless Enabled is set.
type StaleOutdatePolicy struct {
	Enabled   bool `json:"enabled" yaml:"enabled"`
	AfterDays int  `json:"after_days" yaml:"after_days"`
	MaxClaims int  `json:"max_claims" yaml:"max_claims"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	Log    struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Reconcile struct {
		Workers string `yaml:"workers"`
	} `yaml:"reconcile"`
	Matrix struct {
		SummaryLength string `yaml:"summary_length"`
	} `yaml:"matrix"`
	Suggest struct {
		Threshold string `yaml:"threshold"`
	} `yaml:"suggest"`
	Policies PolicyConfig `yaml:"policies"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".canon", "config.yaml")
}

// ResolveConfig layers built-in defaults, the YAML file, environment
// variables and CLI flags, in that order. Each value records where it came from.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		if env := strings.TrimSpace(os.Getenv("CANON_CONFIG")); env != "" {
			path = env
		} else {
			path = DefaultConfigPath()
		}
	}

	out := ResolvedConfig{ConfigPath: path}
	def := func(dst *ResolvedValue, v string) {
		*dst = ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
	}
	def(&out.DBPath, "~/.canon/canon.db")
	def(&out.LogLevel, DefaultLogLevel)
	def(&out.LogFormat, DefaultLogFormat)
	def(&out.Workers, strconv.Itoa(DefaultWorkers))
	def(&out.SummaryLength, strconv.Itoa(DefaultSummaryLength))
	def(&out.SuggestThreshold, strconv.FormatFloat(DefaultSuggestThreshold, 'f', -1, 64))
	out.Policies.StaleOutdate.AfterDays = DefaultStaleAfterDays

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LogLevel, cfg.Log.Level, SourceConfig, path)
		apply(&out.LogFormat, cfg.Log.Format, SourceConfig, path)
		apply(&out.Workers, cfg.Reconcile.Workers, SourceConfig, path)
		apply(&out.SummaryLength, cfg.Matrix.SummaryLength, SourceConfig, path)
		apply(&out.SuggestThreshold, cfg.Suggest.Threshold, SourceConfig, path)

		p := cfg.Policies.StaleOutdate
		out.Policies.StaleOutdate.Enabled = p.Enabled
		if p.AfterDays > 0 {
			out.Policies.StaleOutdate.AfterDays = p.AfterDays
		}
		if p.MaxClaims > 0 {
			out.Policies.StaleOutdate.MaxClaims = p.MaxClaims
		}
	}

	applyEnv(&out.DBPath, "CANON_DB")
	applyEnv(&out.LogLevel, "CANON_LOG_LEVEL")
	applyEnv(&out.LogFormat, "CANON_LOG_FORMAT")
	applyEnv(&out.Workers, "CANON_WORKERS")
	applyEnv(&out.SummaryLength, "CANON_SUMMARY_LENGTH")
	applyEnv(&out.SuggestThreshold, "CANON_SUGGEST_THRESHOLD")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")
	apply(&out.LogFormat, opts.CLILogFormat, SourceCLI, "--log-format")
	apply(&out.Workers, opts.CLIWorkers, SourceCLI, "--workers")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	if _, err := positiveInt(out.Workers); err != nil {
		return out, err
	}
	if _, err := positiveInt(out.SummaryLength); err != nil {
		return out, err
	}
	if _, err := ratio(out.SuggestThreshold); err != nil {
		return out, err
	}

	return out, nil
}

// WorkerCount is the reconcile concurrency limit.
func (r ResolvedConfig) WorkerCount() int {
	n, err := positiveInt(r.Workers)
	if err != nil {
		return DefaultWorkers
	}
	return n
}

// SummaryMaxLen is the matrix summary truncation length in runes.
func (r ResolvedConfig) SummaryMaxLen() int {
	n, err := positiveInt(r.SummaryLength)
	if err != nil {
		return DefaultSummaryLength
	}
	return n
}

// Threshold is the similarity threshold for merge suggestions.
func (r ResolvedConfig) Threshold() float64 {
	f, err := ratio(r.SuggestThreshold)
	if err != nil {
		return DefaultSuggestThreshold
	}
	return f
}

func positiveInt(v ResolvedValue) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v.Value))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid value %q from %s (%s): must be a positive integer", v.Value, v.Source, v.From)
	}
	return n, nil
}

func ratio(v ResolvedValue) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
	if err != nil || f <= 0 || f > 1 {
		return 0, fmt.Errorf("invalid value %q from %s (%s): must be in (0, 1]", v.Value, v.Source, v.From)
	}
	return f, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
