// Package config loads and validates the memory core's configuration from
// YAML with environment-variable overrides, following the same load/save/
// env-override shape used throughout the teacher codebase's own config
// package.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/athena-core/memory/internal/erring"
)

// DBConfig configures C1 Database Access.
type DBConfig struct {
	Path           string `yaml:"path"`
	PoolMin        int    `yaml:"pool_min"`
	PoolMax        int    `yaml:"pool_max"`
	TimeoutMS      int    `yaml:"timeout_ms"`
	IdleRecycleS   int    `yaml:"idle_recycle_s"`
	LifetimeRecyleS int   `yaml:"lifetime_recycle_s"`
}

// EmbedConfig configures C2 Embedding Client.
type EmbedConfig struct {
	Provider  string `yaml:"provider"` // local, remote, mock
	Dimension int    `yaml:"dimension"`
	BatchMax  int    `yaml:"batch_max"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Endpoint  string `yaml:"endpoint"`
}

// LLMConfig configures C3 LLM Client.
type LLMConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	MaxTokens  int    `yaml:"max_tokens"`
}

// RecallConfig configures C13 Retrieval Planner.
type RecallConfig struct {
	KDefault       int     `yaml:"k_default"`
	MinSimilarity  float64 `yaml:"min_similarity"`
	Tier1TimeoutMS int     `yaml:"tier1_timeout_ms"`
	Tier2TimeoutMS int     `yaml:"tier2_timeout_ms"`
	Tier3TimeoutMS int     `yaml:"tier3_timeout_ms"`
	ExpandQueries  bool    `yaml:"expand_queries"`
	CacheTTLS      int     `yaml:"cache_ttl_s"`
	CacheSize      int     `yaml:"cache_size"`
	ExpandCacheSize int    `yaml:"expand_cache_size"`
	ExpandCacheTTLS int    `yaml:"expand_cache_ttl_s"`
	WeightVector   float64 `yaml:"weight_vector"`
	WeightLexical  float64 `yaml:"weight_lexical"`
	WeightBoost    float64 `yaml:"weight_boost"`
	GlobalCap      int     `yaml:"global_cap"`
}

// ConsolConfig configures C12 Consolidation Engine.
type ConsolConfig struct {
	WindowS             int     `yaml:"window_s"`
	MaxEvents           int     `yaml:"max_events"`
	Strategy            string  `yaml:"strategy"` // speed, balanced, quality
	Sys2Threshold       float64 `yaml:"sys2_threshold"`
	CompressionTarget   float64 `yaml:"compression_target"`
	SemanticPreserveMin float64 `yaml:"semantic_preserve_min"`
	ScheduleEveryS      int     `yaml:"schedule_every_s"`
	ClusterGapS         int     `yaml:"cluster_gap_s"`
	ClusterCosineMin    float64 `yaml:"cluster_cosine_min"`
	MaxClusterEvents    int     `yaml:"max_cluster_events"`
}

// IngestConfig configures C11 Ingestion Pipeline.
type IngestConfig struct {
	BatchSize       int `yaml:"batch_size"`
	FlushMS         int `yaml:"flush_ms"`
	RetriesMax      int `yaml:"retries_max"`
	DedupCacheSize  int `yaml:"dedup_cache_size"`
	TokenBucketRate int `yaml:"token_bucket_rate"` // events/min soft cap per source
	LLMImportance   bool `yaml:"llm_importance"`
}

// VerifyConfig configures C14 Verification Gateway.
type VerifyConfig struct {
	ConfidenceFloor float64  `yaml:"confidence_floor"`
	EnabledGates    []string `yaml:"enabled_gates"`
	FreshnessTTLS   int      `yaml:"freshness_ttl_s"`
	GlobalResultCap int      `yaml:"global_result_cap"`
	MaxBatchSize    int      `yaml:"max_batch_size"`
	MaxPayloadBytes int      `yaml:"max_payload_bytes"`
}

// MetaConfig configures C9 Meta-Memory Store.
type MetaConfig struct {
	QualityHalfLifeDays float64 `yaml:"quality_half_life_days"` // 30
	AttentionBudgetMax  float64 `yaml:"attention_budget_max"`   // 1.0
}

// WorkingMemConfig configures C10 Working Memory.
type WorkingMemConfig struct {
	SoftCapacity int     `yaml:"soft_capacity"` // 7
	HardCapacity int     `yaml:"hard_capacity"` // 9
	DecayFloor   float64 `yaml:"decay_floor"`   // 0.1
	SweepEveryS  int     `yaml:"sweep_every_s"`
}

// LoggingConfig configures the ambient logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the root configuration object.
type Config struct {
	DB       DBConfig         `yaml:"db"`
	Embed    EmbedConfig      `yaml:"embed"`
	LLM      LLMConfig        `yaml:"llm"`
	Recall   RecallConfig     `yaml:"recall"`
	Consol   ConsolConfig     `yaml:"consol"`
	Ingest   IngestConfig     `yaml:"ingest"`
	Verify   VerifyConfig     `yaml:"verify"`
	WorkingMem WorkingMemConfig `yaml:"working_mem"`
	Meta     MetaConfig       `yaml:"meta"`
	Logging  LoggingConfig    `yaml:"logging"`
}

// DefaultConfig returns a Config filled with spec-mandated defaults.
func DefaultConfig() *Config {
	return &Config{
		DB: DBConfig{
			Path:            "athena.db",
			PoolMin:         2,
			PoolMax:         10,
			TimeoutMS:       30000,
			IdleRecycleS:    300,
			LifetimeRecyleS: 3600,
		},
		Embed: EmbedConfig{
			Provider:  "mock",
			Dimension: 768,
			BatchMax:  100,
			Model:     "gemini-embedding-001",
		},
		LLM: LLMConfig{
			Provider:  "mock",
			Model:     "gemini-2.0-flash",
			TimeoutMS: 30000,
			MaxTokens: 2048,
		},
		Recall: RecallConfig{
			KDefault:        5,
			MinSimilarity:   0.3,
			Tier1TimeoutMS:  100,
			Tier2TimeoutMS:  300,
			Tier3TimeoutMS:  2000,
			ExpandQueries:   true,
			CacheTTLS:       300,
			CacheSize:       50000,
			ExpandCacheSize: 1000,
			ExpandCacheTTLS: 3600,
			WeightVector:    0.6,
			WeightLexical:   0.3,
			WeightBoost:     0.1,
			GlobalCap:       100,
		},
		Consol: ConsolConfig{
			WindowS:             300,
			MaxEvents:           10000,
			Strategy:            "balanced",
			Sys2Threshold:       0.7,
			CompressionTarget:   0.35,
			SemanticPreserveMin: 0.95,
			ScheduleEveryS:      300,
			ClusterGapS:         300,
			ClusterCosineMin:    0.78,
			MaxClusterEvents:    10000,
		},
		Ingest: IngestConfig{
			BatchSize:       64,
			FlushMS:         200,
			RetriesMax:      3,
			DedupCacheSize:  5000,
			TokenBucketRate: 100,
		},
		Verify: VerifyConfig{
			ConfidenceFloor: 0.3,
			EnabledGates:    []string{"grounding", "consistency", "dimension", "confidence_floor", "freshness", "quota", "cardinality"},
			FreshnessTTLS:   86400,
			GlobalResultCap: 100,
			MaxBatchSize:    1000,
			MaxPayloadBytes: 1 << 20,
		},
		WorkingMem: WorkingMemConfig{
			SoftCapacity: 7,
			HardCapacity: 9,
			DecayFloor:   0.1,
			SweepEveryS:  30,
		},
		Meta: MetaConfig{
			QualityHalfLifeDays: 30,
			AttentionBudgetMax:  1.0,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config file, falling back to defaults for any field the
// file omits, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, erring.ConfigError("config.Load", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, erring.ConfigError("config.Load", err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return erring.ConfigError("config.Save", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return erring.ConfigError("config.Save", err)
	}
	return nil
}

// applyEnvOverrides walks the struct tree applying ATHENA_<SECTION>_<FIELD>
// environment variables, mirroring the teacher's tag-driven override walk.
func applyEnvOverrides(cfg *Config) {
	walkOverride(reflect.ValueOf(cfg).Elem(), "ATHENA")
}

func walkOverride(v reflect.Value, prefix string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		tag := field.Tag.Get("yaml")
		name := strings.ToUpper(strings.SplitN(tag, ",", 2)[0])
		envName := prefix + "_" + name
		if fv.Kind() == reflect.Struct {
			walkOverride(fv, envName)
			continue
		}
		raw, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}
		switch fv.Kind() {
		case reflect.String:
			fv.SetString(raw)
		case reflect.Int:
			if n, err := strconv.Atoi(raw); err == nil {
				fv.SetInt(int64(n))
			}
		case reflect.Float64:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				fv.SetFloat(f)
			}
		case reflect.Bool:
			if b, err := strconv.ParseBool(raw); err == nil {
				fv.SetBool(b)
			}
		case reflect.Slice:
			if fv.Type().Elem().Kind() == reflect.String {
				fv.Set(reflect.ValueOf(strings.Split(raw, ",")))
			}
		}
	}
}

// Validate rejects out-of-range configuration at bootstrap.
func (c *Config) Validate() error {
	if c.DB.PoolMin < 1 || c.DB.PoolMax < c.DB.PoolMin {
		return erring.ConfigError("config.Validate", fmt.Errorf("db.pool_min=%d db.pool_max=%d invalid", c.DB.PoolMin, c.DB.PoolMax))
	}
	if c.Embed.Dimension <= 0 {
		return erring.ConfigError("config.Validate", fmt.Errorf("embed.dimension must be positive"))
	}
	if c.Recall.KDefault <= 0 {
		return erring.ConfigError("config.Validate", fmt.Errorf("recall.k_default must be positive"))
	}
	sum := c.Recall.WeightVector + c.Recall.WeightLexical + c.Recall.WeightBoost
	if sum <= 0 {
		return erring.ConfigError("config.Validate", fmt.Errorf("hybrid search weights must sum to a positive value"))
	}
	if c.WorkingMem.HardCapacity < c.WorkingMem.SoftCapacity {
		return erring.ConfigError("config.Validate", fmt.Errorf("working_mem.hard_capacity must be >= soft_capacity"))
	}
	return nil
}

// PoolBounds implements the connection-pool sizing formula from spec.md
// §4.C1: min = clamp(ceil(workers*0.1), 2, 5); max = clamp(ceil(workers*0.5), 10, 20).
func PoolBounds(workers int) (min, max int) {
	min = clampInt(ceilTenth(workers*1), 2, 5)
	max = clampInt(ceilTenth(workers*5), 10, 20)
	return
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ceilTenth computes ceil(n/10) for n already scaled by 10x a fraction.
func ceilTenth(n int) int {
	if n%10 == 0 {
		return n / 10
	}
	return n/10 + 1
}
