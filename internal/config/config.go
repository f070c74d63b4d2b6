// Package config loads the being's configuration from a base TOML or YAML
// file (sniffed by extension, following the teacher's feeders package
// convention of one feeder per format) overlaid by environment variable
// overrides whose values are coerced to the destination type with
// github.com/golobby/cast, mirroring modules/*/config.go's json/yaml/env
// struct-tag convention throughout the teacher repo.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// ErrOutOfRange is returned by Set when a mutable key's coerced value
// falls outside its enforced numeric bound. Wrapped, never replaced, so
// callers (the self-modification Approve path) can match it with
// errors.Is.
var ErrOutOfRange = errors.New("config: value out of range")

// mutableBounds enforces spec.md section 6's "enforced numeric bounds" for
// each self-modification-whitelisted key, inclusive on both ends.
// attention.min_score's bound is the [0, 1] score clamp of section 6/8;
// the rest are sized generously around their defaults to block nonsense
// (negative tick counts, negative hours) without being a real tuning
// constraint.
var mutableBounds = map[string]struct{ min, max float64 }{
	"dream.interval_hours":         {0.1, 168},
	"reflection.every_n_ticks":     {0, 10000},
	"narrative.every_n_ticks":      {0, 10000},
	"curiosity.ask_every_n_ticks":  {0, 10000},
	"curiosity.max_open_questions": {0, 1000},
	"attention.min_score":          {0, 1},
	"attention.top_k":              {1, 1000},
}

// checkBound validates v against key's enforced bound, if it has one.
func checkBound(key string, v float64) error {
	b, ok := mutableBounds[key]
	if !ok {
		return nil
	}
	if v < b.min || v > b.max {
		return fmt.Errorf("config: %q value %v outside [%v, %v]: %w", key, v, b.min, b.max, ErrOutOfRange)
	}
	return nil
}

// Config is the full set of keys the core recognizes, per spec.md section 6
// and SPEC_FULL.md section D.
type Config struct {
	Ticks struct {
		LightTickSec float64 `toml:"light_tick_sec" yaml:"light_tick_sec" env:"TICKS_LIGHT_TICK_SEC"`
		HeavyTickSec float64 `toml:"heavy_tick_sec" yaml:"heavy_tick_sec" env:"TICKS_HEAVY_TICK_SEC"`
	} `toml:"ticks" yaml:"ticks"`

	Ollama struct {
		BaseURL       string `toml:"base_url" yaml:"base_url" env:"OLLAMA_BASE_URL"`
		StrategyModel string `toml:"strategy_model" yaml:"strategy_model" env:"OLLAMA_STRATEGY_MODEL"`
		EmbedModel    string `toml:"embed_model" yaml:"embed_model" env:"OLLAMA_EMBED_MODEL"`
		TimeoutSec    float64 `toml:"timeout_sec" yaml:"timeout_sec" env:"OLLAMA_TIMEOUT_SEC"`
	} `toml:"ollama" yaml:"ollama"`

	Resources struct {
		Budget struct {
			MaxLLMCalls int `toml:"max_llm_calls" yaml:"max_llm_calls" env:"RESOURCES_BUDGET_MAX_LLM_CALLS"`
		} `toml:"budget" yaml:"budget"`
	} `toml:"resources" yaml:"resources"`

	Cache struct {
		MaxSize    int `toml:"max_size" yaml:"max_size" env:"CACHE_MAX_SIZE"`
		TTLSeconds int `toml:"ttl_seconds" yaml:"ttl_seconds" env:"CACHE_TTL_SECONDS"`
	} `toml:"cache" yaml:"cache"`

	RateLimit struct {
		ChatRate   float64 `toml:"chat_rate" yaml:"chat_rate" env:"RATE_LIMIT_CHAT_RATE"`
		ChatBurst  int     `toml:"chat_burst" yaml:"chat_burst" env:"RATE_LIMIT_CHAT_BURST"`
		EmbedRate  float64 `toml:"embed_rate" yaml:"embed_rate" env:"RATE_LIMIT_EMBED_RATE"`
		EmbedBurst int     `toml:"embed_burst" yaml:"embed_burst" env:"RATE_LIMIT_EMBED_BURST"`
	} `toml:"rate_limit" yaml:"rate_limit"`

	Dream struct {
		IntervalHours float64 `toml:"interval_hours" yaml:"interval_hours" env:"DREAM_INTERVAL_HOURS"`
	} `toml:"dream" yaml:"dream"`

	Reflection struct {
		EveryNTicks int `toml:"every_n_ticks" yaml:"every_n_ticks" env:"REFLECTION_EVERY_N_TICKS"`
	} `toml:"reflection" yaml:"reflection"`

	Narrative struct {
		EveryNTicks int `toml:"every_n_ticks" yaml:"every_n_ticks" env:"NARRATIVE_EVERY_N_TICKS"`
	} `toml:"narrative" yaml:"narrative"`

	Curiosity struct {
		AskEveryNTicks  int `toml:"ask_every_n_ticks" yaml:"ask_every_n_ticks" env:"CURIOSITY_ASK_EVERY_N_TICKS"`
		MaxOpenQuestions int `toml:"max_open_questions" yaml:"max_open_questions" env:"CURIOSITY_MAX_OPEN_QUESTIONS"`
	} `toml:"curiosity" yaml:"curiosity"`

	Attention struct {
		MinScore float64 `toml:"min_score" yaml:"min_score" env:"ATTENTION_MIN_SCORE"`
		TopK     int     `toml:"top_k" yaml:"top_k" env:"ATTENTION_TOP_K"`
	} `toml:"attention" yaml:"attention"`

	Logging struct {
		Level  string `toml:"level" yaml:"level" env:"LOGGING_LEVEL"`
		Format string `toml:"format" yaml:"format" env:"LOGGING_FORMAT"`
	} `toml:"logging" yaml:"logging"`

	Watcher struct {
		RootDir     string `toml:"root_dir" yaml:"root_dir" env:"WATCHER_ROOT_DIR"`
		DebounceMs  int    `toml:"debounce_ms" yaml:"debounce_ms" env:"WATCHER_DEBOUNCE_MS"`
	} `toml:"watcher" yaml:"watcher"`

	HTTP struct {
		ListenAddr string `toml:"listen_addr" yaml:"listen_addr" env:"HTTP_LISTEN_ADDR"`
	} `toml:"http" yaml:"http"`

	Shell struct {
		AllowedDir     string `toml:"allowed_dir" yaml:"allowed_dir" env:"SHELL_ALLOWED_DIR"`
		OutputCapBytes int    `toml:"output_cap_bytes" yaml:"output_cap_bytes" env:"SHELL_OUTPUT_CAP_BYTES"`
	} `toml:"shell" yaml:"shell"`

	Health struct {
		CheckIntervalSec float64 `toml:"check_interval_sec" yaml:"check_interval_sec" env:"HEALTH_CHECK_INTERVAL_SEC"`
		FailureThreshold int     `toml:"failure_threshold" yaml:"failure_threshold" env:"HEALTH_FAILURE_THRESHOLD"`
	} `toml:"health" yaml:"health"`

	Memory struct {
		Dir                 string  `toml:"dir" yaml:"dir" env:"MEMORY_DIR"`
		EpisodicRetentionDays int   `toml:"episodic_retention_days" yaml:"episodic_retention_days" env:"MEMORY_EPISODIC_RETENTION_DAYS"`
		VectorRetentionDays   int   `toml:"vector_retention_days" yaml:"vector_retention_days" env:"MEMORY_VECTOR_RETENTION_DAYS"`
		VectorDimension       int   `toml:"vector_dimension" yaml:"vector_dimension" env:"MEMORY_VECTOR_DIMENSION"`
	} `toml:"memory" yaml:"memory"`

	// MutableKeys whitelists the dotted config keys the self-modification
	// proposal pipeline may mutate at runtime, per spec.md section 6.
	MutableKeys []string `toml:"-" yaml:"-"`
}

// Default returns the built-in defaults applied before any file or
// environment overlay, so a being can run with zero configuration.
func Default() *Config {
	c := &Config{}
	c.Ticks.LightTickSec = 5
	c.Ticks.HeavyTickSec = 30
	c.Ollama.BaseURL = "http://localhost:11434"
	c.Ollama.StrategyModel = "llama3"
	c.Ollama.EmbedModel = "nomic-embed-text"
	c.Ollama.TimeoutSec = 30
	c.Resources.Budget.MaxLLMCalls = 20
	c.Cache.MaxSize = 256
	c.Cache.TTLSeconds = 3600
	c.RateLimit.ChatRate = 1
	c.RateLimit.ChatBurst = 3
	c.RateLimit.EmbedRate = 2
	c.RateLimit.EmbedBurst = 5
	c.Dream.IntervalHours = 6
	c.Reflection.EveryNTicks = 10
	c.Narrative.EveryNTicks = 20
	c.Curiosity.AskEveryNTicks = 15
	c.Curiosity.MaxOpenQuestions = 10
	c.Attention.MinScore = 0.3
	c.Attention.TopK = 10
	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.Watcher.RootDir = "."
	c.Watcher.DebounceMs = 500
	c.HTTP.ListenAddr = ":8383"
	c.Shell.AllowedDir = "sandbox"
	c.Shell.OutputCapBytes = 8192
	c.Health.CheckIntervalSec = 30
	c.Health.FailureThreshold = 3
	c.Memory.Dir = "memory"
	c.Memory.EpisodicRetentionDays = 90
	c.Memory.VectorRetentionDays = 30
	c.Memory.VectorDimension = 768
	c.MutableKeys = []string{
		"dream.interval_hours",
		"reflection.every_n_ticks",
		"narrative.every_n_ticks",
		"curiosity.ask_every_n_ticks",
		"curiosity.max_open_questions",
		"attention.min_score",
		"attention.top_k",
	}
	return c
}

// Load reads path (TOML or YAML by extension) over the defaults, then
// applies any matching environment variable overrides found on the
// struct's `env` tags.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := feedFile(cfg, path); err != nil {
				return nil, fmt.Errorf("config: load %s: %w", path, err)
			}
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func feedFile(cfg *Config, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.DecodeFile(path, cfg)
		return err
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unrecognized config extension %q", filepath.Ext(path))
	}
}

// applyEnvOverrides applies, for each recognized environment variable, a
// setter closure writing a coerced value into the config. This mirrors the
// teacher's affixed-env-feeder approach of walking struct tags, simplified
// to an explicit table since this config has a fixed, fully-enumerated
// shape (see spec.md section 6).
func applyEnvOverrides(c *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if f, err := cast.ToFloat64(v); err == nil {
				*dst = f
			}
		}
	}
	intv := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if i, err := cast.ToInt(v); err == nil {
				*dst = i
			}
		}
	}

	num("TICKS_LIGHT_TICK_SEC", &c.Ticks.LightTickSec)
	num("TICKS_HEAVY_TICK_SEC", &c.Ticks.HeavyTickSec)
	str("OLLAMA_BASE_URL", &c.Ollama.BaseURL)
	str("OLLAMA_STRATEGY_MODEL", &c.Ollama.StrategyModel)
	str("OLLAMA_EMBED_MODEL", &c.Ollama.EmbedModel)
	num("OLLAMA_TIMEOUT_SEC", &c.Ollama.TimeoutSec)
	intv("RESOURCES_BUDGET_MAX_LLM_CALLS", &c.Resources.Budget.MaxLLMCalls)
	intv("CACHE_MAX_SIZE", &c.Cache.MaxSize)
	intv("CACHE_TTL_SECONDS", &c.Cache.TTLSeconds)
	num("RATE_LIMIT_CHAT_RATE", &c.RateLimit.ChatRate)
	intv("RATE_LIMIT_CHAT_BURST", &c.RateLimit.ChatBurst)
	num("RATE_LIMIT_EMBED_RATE", &c.RateLimit.EmbedRate)
	intv("RATE_LIMIT_EMBED_BURST", &c.RateLimit.EmbedBurst)
	num("DREAM_INTERVAL_HOURS", &c.Dream.IntervalHours)
	intv("REFLECTION_EVERY_N_TICKS", &c.Reflection.EveryNTicks)
	intv("NARRATIVE_EVERY_N_TICKS", &c.Narrative.EveryNTicks)
	intv("CURIOSITY_ASK_EVERY_N_TICKS", &c.Curiosity.AskEveryNTicks)
	intv("CURIOSITY_MAX_OPEN_QUESTIONS", &c.Curiosity.MaxOpenQuestions)
	num("ATTENTION_MIN_SCORE", &c.Attention.MinScore)
	intv("ATTENTION_TOP_K", &c.Attention.TopK)
	str("LOGGING_LEVEL", &c.Logging.Level)
	str("LOGGING_FORMAT", &c.Logging.Format)
	str("WATCHER_ROOT_DIR", &c.Watcher.RootDir)
	intv("WATCHER_DEBOUNCE_MS", &c.Watcher.DebounceMs)
	str("HTTP_LISTEN_ADDR", &c.HTTP.ListenAddr)
	str("SHELL_ALLOWED_DIR", &c.Shell.AllowedDir)
	intv("SHELL_OUTPUT_CAP_BYTES", &c.Shell.OutputCapBytes)
	num("HEALTH_CHECK_INTERVAL_SEC", &c.Health.CheckIntervalSec)
	intv("HEALTH_FAILURE_THRESHOLD", &c.Health.FailureThreshold)
	str("MEMORY_DIR", &c.Memory.Dir)
	intv("MEMORY_EPISODIC_RETENTION_DAYS", &c.Memory.EpisodicRetentionDays)
	intv("MEMORY_VECTOR_RETENTION_DAYS", &c.Memory.VectorRetentionDays)
	intv("MEMORY_VECTOR_DIMENSION", &c.Memory.VectorDimension)
}

// LightTickInterval and HeavyTickInterval convert the configured seconds
// to time.Duration.
func (c *Config) LightTickInterval() time.Duration {
	return time.Duration(c.Ticks.LightTickSec * float64(time.Second))
}

func (c *Config) HeavyTickInterval() time.Duration {
	return time.Duration(c.Ticks.HeavyTickSec * float64(time.Second))
}

func (c *Config) OllamaTimeout() time.Duration {
	return time.Duration(c.Ollama.TimeoutSec * float64(time.Second))
}

// IsMutable reports whether key is in the self-modification whitelist.
func (c *Config) IsMutable(key string) bool {
	for _, k := range c.MutableKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the current string representation of a mutable key's value,
// used by the self-modification subsystem to record before/after values.
func (c *Config) Get(key string) (string, bool) {
	switch key {
	case "dream.interval_hours":
		return strconv.FormatFloat(c.Dream.IntervalHours, 'f', -1, 64), true
	case "reflection.every_n_ticks":
		return strconv.Itoa(c.Reflection.EveryNTicks), true
	case "narrative.every_n_ticks":
		return strconv.Itoa(c.Narrative.EveryNTicks), true
	case "curiosity.ask_every_n_ticks":
		return strconv.Itoa(c.Curiosity.AskEveryNTicks), true
	case "curiosity.max_open_questions":
		return strconv.Itoa(c.Curiosity.MaxOpenQuestions), true
	case "attention.min_score":
		return strconv.FormatFloat(c.Attention.MinScore, 'f', -1, 64), true
	case "attention.top_k":
		return strconv.Itoa(c.Attention.TopK), true
	default:
		return "", false
	}
}

// Set applies a new value to a mutable key, coercing via golobby/cast.
// Returns an error if key is not whitelisted, the value cannot be
// coerced to the expected type, or it falls outside the key's enforced
// bound (ErrOutOfRange).
func (c *Config) Set(key, value string) error {
	if !c.IsMutable(key) {
		return fmt.Errorf("config: key %q is not in the mutable whitelist", key)
	}
	switch key {
	case "dream.interval_hours":
		f, err := cast.ToFloat64(value)
		if err != nil {
			return err
		}
		if err := checkBound(key, f); err != nil {
			return err
		}
		c.Dream.IntervalHours = f
	case "reflection.every_n_ticks":
		i, err := cast.ToInt(value)
		if err != nil {
			return err
		}
		if err := checkBound(key, float64(i)); err != nil {
			return err
		}
		c.Reflection.EveryNTicks = i
	case "narrative.every_n_ticks":
		i, err := cast.ToInt(value)
		if err != nil {
			return err
		}
		if err := checkBound(key, float64(i)); err != nil {
			return err
		}
		c.Narrative.EveryNTicks = i
	case "curiosity.ask_every_n_ticks":
		i, err := cast.ToInt(value)
		if err != nil {
			return err
		}
		if err := checkBound(key, float64(i)); err != nil {
			return err
		}
		c.Curiosity.AskEveryNTicks = i
	case "curiosity.max_open_questions":
		i, err := cast.ToInt(value)
		if err != nil {
			return err
		}
		if err := checkBound(key, float64(i)); err != nil {
			return err
		}
		c.Curiosity.MaxOpenQuestions = i
	case "attention.min_score":
		f, err := cast.ToFloat64(value)
		if err != nil {
			return err
		}
		if err := checkBound(key, f); err != nil {
			return err
		}
		c.Attention.MinScore = f
	case "attention.top_k":
		i, err := cast.ToInt(value)
		if err != nil {
			return err
		}
		if err := checkBound(key, float64(i)); err != nil {
			return err
		}
		c.Attention.TopK = i
	default:
		return fmt.Errorf("config: key %q is not in the mutable whitelist", key)
	}
	return nil
}
