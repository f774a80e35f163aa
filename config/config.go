// Package config provides layered YAML configuration for semdilemma.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semdilemma/vignette"
)

// Config represents the complete semdilemma configuration.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Revision RevisionConfig `yaml:"revision"`
	Model    ModelConfig    `yaml:"model"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// PipelineConfig configures the generation loop and its checks.
type PipelineConfig struct {
	// MaxCycles bounds the number of revisions and regenerations per run.
	MaxCycles int `yaml:"max_cycles"`
	// MaxRegenerations bounds the redrafts from the seed within those cycles.
	MaxRegenerations int `yaml:"max_regenerations"`
	// RegenerateAfter redrafts once the same criteria fail this many
	// evaluations in a row. Zero disables it.
	RegenerateAfter int `yaml:"regenerate_after"`
	// ReviewerTimeout bounds each reviewer call during critique.
	ReviewerTimeout time.Duration `yaml:"reviewer_timeout"`
	// NoveltyThreshold is the similarity at or above which a candidate is a near-duplicate.
	NoveltyThreshold float64 `yaml:"novelty_threshold"`
	// WordCeiling and WordFloor bound the narrative length.
	WordCeiling int `yaml:"word_ceiling"`
	WordFloor   int `yaml:"word_floor"`
	// ForbiddenLexicon adds terms to the built-in value-name lexicon.
	ForbiddenLexicon []string `yaml:"forbidden_lexicon"`
	// LexiconFile is an optional YAML file of extra terms, reloaded on change.
	LexiconFile string `yaml:"lexicon_file"`
	// Values is the value framework. Only the four principlist values are accepted.
	Values []string `yaml:"values"`
	// Concurrency bounds parallel runs in batch mode.
	Concurrency int `yaml:"concurrency"`
}

// RevisionConfig configures the revision engine's retry policy.
type RevisionConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// ModelConfig configures model selection.
type ModelConfig struct {
	// RegistryFile is a JSON model registry. Empty uses the built-in registry.
	RegistryFile string `yaml:"registry_file"`
	// DraftTemperature applies to drafting and revising calls.
	DraftTemperature float64 `yaml:"draft_temperature"`
	// ReviewTemperature applies to reviewer calls.
	ReviewTemperature float64 `yaml:"review_temperature"`
	// Timeout is the HTTP timeout for a single completion.
	Timeout time.Duration `yaml:"timeout"`
}

// CorpusConfig configures accepted-vignette persistence.
type CorpusConfig struct {
	// NATSURL selects JetStream KV storage. Empty keeps the corpus in memory.
	NATSURL string `yaml:"nats_url"`
	// Bucket is the KV bucket name.
	Bucket string `yaml:"bucket"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address for /metrics. Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with defaults.
func DefaultConfig() *Config {
	values := make([]string, 0, 4)
	for _, v := range vignette.Values() {
		values = append(values, v.String())
	}
	return &Config{
		Pipeline: PipelineConfig{
			MaxCycles:        5,
			MaxRegenerations: 1,
			ReviewerTimeout:  90 * time.Second,
			NoveltyThreshold: 0.75,
			WordCeiling:      100,
			WordFloor:        20,
			Values:           values,
			Concurrency:      4,
		},
		Revision: RevisionConfig{
			MaxAttempts: 3,
			BackoffBase: 2 * time.Second,
			MaxBackoff:  30 * time.Second,
		},
		Model: ModelConfig{
			DraftTemperature:  0.7,
			ReviewTemperature: 0.1,
			Timeout:           3 * time.Minute,
		},
		Corpus: CorpusConfig{
			Bucket: "SEMDILEMMA_CORPUS",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is usable. All problems are reported.
func (c *Config) Validate() error {
	var errs []error
	p := c.Pipeline
	if p.MaxCycles < 1 {
		errs = append(errs, errors.New("pipeline.max_cycles must be at least 1"))
	}
	if p.MaxRegenerations < 0 {
		errs = append(errs, errors.New("pipeline.max_regenerations must not be negative"))
	}
	if p.RegenerateAfter < 0 || p.RegenerateAfter == 1 {
		errs = append(errs, fmt.Errorf("pipeline.regenerate_after must be 0 or at least 2, got %d", p.RegenerateAfter))
	}
	if p.ReviewerTimeout <= 0 {
		errs = append(errs, errors.New("pipeline.reviewer_timeout must be positive"))
	}
	if p.NoveltyThreshold <= 0 || p.NoveltyThreshold > 1 {
		errs = append(errs, errors.New("pipeline.novelty_threshold must be in (0, 1]"))
	}
	if p.WordFloor < 0 || p.WordCeiling <= p.WordFloor {
		errs = append(errs, fmt.Errorf("pipeline.word_ceiling (%d) must exceed word_floor (%d)", p.WordCeiling, p.WordFloor))
	}
	values := make([]vignette.Value, len(p.Values))
	for i, v := range p.Values {
		values[i] = vignette.Value(v)
	}
	if !vignette.SameValueSet(values) {
		errs = append(errs, fmt.Errorf("pipeline.values must be exactly beneficence, autonomy, non-maleficence and justice, got %v", p.Values))
	}
	if p.Concurrency < 1 {
		errs = append(errs, errors.New("pipeline.concurrency must be at least 1"))
	}
	if c.Revision.MaxAttempts < 1 {
		errs = append(errs, errors.New("revision.max_attempts must be at least 1"))
	}
	for name, t := range map[string]float64{
		"model.draft_temperature":  c.Model.DraftTemperature,
		"model.review_temperature": c.Model.ReviewTemperature,
	} {
		if t < 0 || t > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1", name))
		}
	}
	if c.Corpus.NATSURL != "" && c.Corpus.Bucket == "" {
		errs = append(errs, errors.New("corpus.bucket is required with corpus.nats_url"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// LoadFromFile loads a configuration file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// loadOverlay parses a file into a zero Config so that Merge only sees the
// fields the file actually sets.
func loadOverlay(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveToFile writes the configuration as YAML, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Merge overlays other onto c. Non-zero fields of other win.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	p, o := &c.Pipeline, other.Pipeline
	setInt(&p.MaxCycles, o.MaxCycles)
	setInt(&p.MaxRegenerations, o.MaxRegenerations)
	setInt(&p.RegenerateAfter, o.RegenerateAfter)
	setDuration(&p.ReviewerTimeout, o.ReviewerTimeout)
	setFloat(&p.NoveltyThreshold, o.NoveltyThreshold)
	setInt(&p.WordCeiling, o.WordCeiling)
	setInt(&p.WordFloor, o.WordFloor)
	setString(&p.LexiconFile, o.LexiconFile)
	setInt(&p.Concurrency, o.Concurrency)
	if len(o.ForbiddenLexicon) > 0 {
		p.ForbiddenLexicon = append([]string(nil), o.ForbiddenLexicon...)
	}
	if len(o.Values) > 0 {
		p.Values = append([]string(nil), o.Values...)
	}

	setInt(&c.Revision.MaxAttempts, other.Revision.MaxAttempts)
	setDuration(&c.Revision.BackoffBase, other.Revision.BackoffBase)
	setDuration(&c.Revision.MaxBackoff, other.Revision.MaxBackoff)

	setString(&c.Model.RegistryFile, other.Model.RegistryFile)
	setFloat(&c.Model.DraftTemperature, other.Model.DraftTemperature)
	setFloat(&c.Model.ReviewTemperature, other.Model.ReviewTemperature)
	setDuration(&c.Model.Timeout, other.Model.Timeout)

	setString(&c.Corpus.NATSURL, other.Corpus.NATSURL)
	setString(&c.Corpus.Bucket, other.Corpus.Bucket)
	setString(&c.Metrics.Listen, other.Metrics.Listen)
	setString(&c.Log.Level, other.Log.Level)
	setString(&c.Log.Format, other.Log.Format)
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
