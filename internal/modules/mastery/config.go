package mastery

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/neurobridge-rag/internal/platform/envutil"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

const configFileEnv = "CONFIG_FILE"

type Weights struct {
	Coverage   float64 `yaml:"coverage"`
	Depth      float64 `yaml:"depth"`
	Confidence float64 `yaml:"confidence"`
	Diversity  float64 `yaml:"diversity"`
	Retention  float64 `yaml:"retention"`
}

func (w Weights) sum() float64 {
	return w.Coverage + w.Depth + w.Confidence + w.Diversity + w.Retention
}

// Thresholds are the lower bounds of LEARNING, PROFICIENT and MASTERED. Any positive level below
// Learning is BEGINNER.
type Thresholds struct {
	Learning   float64 `yaml:"learning"`
	Proficient float64 `yaml:"proficient"`
	Mastered   float64 `yaml:"mastered"`
}

type Config struct {
	Weights    Weights    `yaml:"weights"`
	Thresholds Thresholds `yaml:"thresholds"`

	// RetentionHalfLife is how long it takes accumulated engagement to lose half its weight.
	RetentionHalfLife time.Duration `yaml:"retention_half_life"`
	// RetentionSaturation is the engagement strength at which retention reaches 0.5.
	RetentionSaturation float64 `yaml:"retention_saturation"`
	// ConfirmationQuestions is the number of questions before confidence counts in full.
	ConfirmationQuestions int `yaml:"confirmation_questions"`

	// MappingGate drops topic mappings at or below this confidence.
	MappingGate float64 `yaml:"mapping_gate"`
	// ShortQueryWords marks queries under this many words as low-signal.
	ShortQueryWords int `yaml:"short_query_words"`
	// FollowUpWindow is how soon after the previous question on a topic a new one counts as a follow-up.
	FollowUpWindow time.Duration `yaml:"follow_up_window"`

	MaxIntents   int `yaml:"max_intents"`
	MaxSubtopics int `yaml:"max_subtopics"`
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Coverage:   0.30,
			Depth:      0.25,
			Confidence: 0.20,
			Diversity:  0.15,
			Retention:  0.10,
		},
		Thresholds: Thresholds{
			Learning:   0.40,
			Proficient: 0.70,
			Mastered:   0.85,
		},
		RetentionHalfLife:     7 * 24 * time.Hour,
		RetentionSaturation:   2,
		ConfirmationQuestions: 3,
		MappingGate:           0.6,
		ShortQueryWords:       10,
		FollowUpWindow:        5 * time.Minute,
		MaxIntents:            256,
		MaxSubtopics:          256,
	}
}

func (c Config) Validate() error {
	w := c.Weights
	for name, v := range map[string]float64{
		"coverage": w.Coverage, "depth": w.Depth, "confidence": w.Confidence,
		"diversity": w.Diversity, "retention": w.Retention,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("mastery config: weight %s must be >= 0", name)
		}
	}
	if math.Abs(w.sum()-1) > 1e-9 {
		return fmt.Errorf("mastery config: weights sum to %.4f, want 1", w.sum())
	}
	t := c.Thresholds
	if !(t.Learning > 0 && t.Learning < t.Proficient && t.Proficient < t.Mastered && t.Mastered <= 1) {
		return fmt.Errorf("mastery config: thresholds must satisfy 0 < learning < proficient < mastered <= 1")
	}
	if c.RetentionHalfLife <= 0 {
		return fmt.Errorf("mastery config: retention_half_life must be positive")
	}
	if c.RetentionSaturation <= 0 {
		return fmt.Errorf("mastery config: retention_saturation must be positive")
	}
	if c.ConfirmationQuestions < 1 {
		return fmt.Errorf("mastery config: confirmation_questions must be >= 1")
	}
	if c.MappingGate < 0 || c.MappingGate >= 1 {
		return fmt.Errorf("mastery config: mapping_gate must be in [0,1)")
	}
	if c.MaxIntents < 1 || c.MaxSubtopics < 1 {
		return fmt.Errorf("mastery config: max_intents and max_subtopics must be >= 1")
	}
	return nil
}

type fileConfig struct {
	Mastery *Config `yaml:"mastery"`
}

// ConfigFromEnv starts from DefaultConfig, applies the `mastery:` section of CONFIG_FILE when set, then
// the MASTERY_* env overrides. An invalid result falls back to the defaults with a warning.
func ConfigFromEnv(log *logger.Logger) Config {
	cfg := DefaultConfig()
	if path := strings.TrimSpace(os.Getenv(configFileEnv)); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("mastery: config file unreadable; using defaults", "path", path, "error", err)
		} else if overlaid, err := overlayYAML(cfg, data); err != nil {
			log.Warn("mastery: config file invalid; using defaults", "path", path, "error", err)
		} else {
			cfg = overlaid
		}
	}

	cfg.MappingGate = envutil.Float("MASTERY_MAPPING_GATE", cfg.MappingGate, log)
	cfg.ShortQueryWords = envutil.Int("MASTERY_SHORT_QUERY_WORDS", cfg.ShortQueryWords, log)
	cfg.RetentionHalfLife = envutil.Duration("MASTERY_RETENTION_HALF_LIFE", cfg.RetentionHalfLife, time.Hour, log)
	cfg.FollowUpWindow = envutil.Duration("MASTERY_FOLLOW_UP_WINDOW", cfg.FollowUpWindow, time.Second, log)

	if err := cfg.Validate(); err != nil {
		log.Warn("mastery: invalid config; using defaults", "error", err)
		return DefaultConfig()
	}
	return cfg
}

// LoadConfigYAML overlays data onto DefaultConfig and validates the result.
func LoadConfigYAML(data []byte) (Config, error) {
	cfg, err := overlayYAML(DefaultConfig(), data)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayYAML(base Config, data []byte) (Config, error) {
	out := base
	fc := fileConfig{Mastery: &out}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse mastery config: %w", err)
	}
	return out, nil
}
