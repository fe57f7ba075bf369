package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NEWSLINE_"

// ProjectConfigName is the per-project configuration file.
const ProjectConfigName = ".newsline.yaml"

// DataDirName is the per-project data directory holding the article store and vectors.
const DataDirName = ".newsline"

// Config represents the complete newsline configuration.
// The engines never read it directly; the CLI maps it onto engine parameters.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Oracle     OracleConfig     `yaml:"oracle" json:"oracle"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Timeline   TimelineConfig   `yaml:"timeline" json:"timeline"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// SearchConfig configures hybrid retrieval and fusion.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit"`

	// CandidatePool is how many nearest neighbours the vector store returns.
	CandidatePool int `yaml:"candidate_pool" json:"candidate_pool"`

	// Alpha maps a query label to the dense weight. "unclassified" is the fallback.
	Alpha map[string]float64 `yaml:"alpha" json:"alpha"`

	MaxFeatures int     `yaml:"max_features" json:"max_features"`
	MinDF       int     `yaml:"min_df" json:"min_df"`
	MaxDF       float64 `yaml:"max_df" json:"max_df"`

	Temporal TemporalConfig `yaml:"temporal" json:"temporal"`

	// Expansion ranks oracle rewrites of each query alongside it.
	Expansion ExpansionConfig `yaml:"expansion" json:"expansion"`

	// ExtractEntities derives an entity filter from queries that carry none.
	ExtractEntities bool `yaml:"extract_entities" json:"extract_entities"`
}

// ExpansionConfig configures query expansion.
type ExpansionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MaxVariants counts the original query.
	MaxVariants    int     `yaml:"max_variants" json:"max_variants"`
	Weight         float64 `yaml:"weight" json:"weight"`
	ConsensusBoost float64 `yaml:"consensus_boost" json:"consensus_boost"`
}

// TemporalConfig configures recency decay.
type TemporalConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	HalfLifeDays float64 `yaml:"half_life_days" json:"half_life_days"`
	Weight       float64 `yaml:"weight" json:"weight"`
}

// ClassifierConfig configures query classification.
type ClassifierConfig struct {
	UseOracle     bool    `yaml:"use_oracle" json:"use_oracle"`
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
	CacheSize     int     `yaml:"cache_size" json:"cache_size"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Capacity      int           `yaml:"capacity" json:"capacity"`
	TTL           time.Duration `yaml:"ttl" json:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	// RedisAddr enables the shared cache tier when set.
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" json:"redis_prefix"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider         string        `yaml:"provider" json:"provider"` // ollama | static
	Model            string        `yaml:"model" json:"model"`
	Host             string        `yaml:"host" json:"host"`
	Dimensions       int           `yaml:"dimensions" json:"dimensions"`
	MaxSequenceChars int           `yaml:"max_sequence_chars" json:"max_sequence_chars"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	CacheSize        int           `yaml:"cache_size" json:"cache_size"`
}

// OracleConfig configures the language-model oracle.
type OracleConfig struct {
	Provider   string        `yaml:"provider" json:"provider"` // ollama | stub
	Host       string        `yaml:"host" json:"host"`
	Model      string        `yaml:"model" json:"model"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
}

// VectorConfig selects the vector store backend.
type VectorConfig struct {
	Backend          string        `yaml:"backend" json:"backend"` // hnsw | milvus
	MilvusAddress    string        `yaml:"milvus_address" json:"milvus_address"`
	MilvusCollection string        `yaml:"milvus_collection" json:"milvus_collection"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
}

// TimelineConfig configures timeline construction.
type TimelineConfig struct {
	DedupThreshold      float64 `yaml:"dedup_threshold" json:"dedup_threshold"`
	MinConfidence       float64 `yaml:"min_confidence" json:"min_confidence"`
	ImportanceThreshold float64 `yaml:"importance_threshold" json:"importance_threshold"`
	MaxEvents           int     `yaml:"max_events" json:"max_events"`
	SimilarityWorkers   int     `yaml:"similarity_workers" json:"similarity_workers"`
	UseOracle           bool    `yaml:"use_oracle" json:"use_oracle"`
}

// TelemetryConfig configures local query telemetry.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// DefaultAlpha returns the per-label dense weights.
func DefaultAlpha() map[string]float64 {
	return map[string]float64{
		"conceptual":   0.8,
		"factual":      0.4,
		"entity":       0.3,
		"temporal":     0.6,
		"comparative":  0.7,
		"unclassified": 0.65,
	}
}

// NewConfig returns a configuration with all defaults applied.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			DefaultLimit:  10,
			MaxLimit:      100,
			CandidatePool: 100,
			Alpha:         DefaultAlpha(),
			MaxFeatures:   20000,
			MinDF:         2,
			MaxDF:         0.95,
			Temporal: TemporalConfig{
				Enabled:      true,
				HalfLifeDays: 30,
				Weight:       0.3,
			},
			Expansion: ExpansionConfig{
				Enabled:        true,
				MaxVariants:    5,
				Weight:         0.5,
				ConsensusBoost: 0.1,
			},
			ExtractEntities: true,
		},
		Classifier: ClassifierConfig{
			UseOracle:     true,
			MinConfidence: 0.5,
			CacheSize:     1000,
		},
		Cache: CacheConfig{
			Capacity:      512,
			TTL:           15 * time.Minute,
			SweepInterval: time.Minute,
			RedisPrefix:   "newsline:results:",
		},
		Embeddings: EmbeddingsConfig{
			Provider:         "ollama",
			Model:            "nomic-embed-text",
			Host:             "http://localhost:11434",
			Dimensions:       256,
			MaxSequenceChars: 2048,
			Timeout:          20 * time.Second,
			CacheSize:        1000,
		},
		Oracle: OracleConfig{
			Provider:   "ollama",
			Host:       "http://localhost:11434",
			Model:      "qwen3:4b",
			Timeout:    60 * time.Second,
			MaxRetries: 3,
		},
		Vector: VectorConfig{
			Backend:          "hnsw",
			MilvusCollection: "news_articles",
			Timeout:          10 * time.Second,
		},
		Timeline: TimelineConfig{
			DedupThreshold:      0.8,
			MinConfidence:       0.5,
			ImportanceThreshold: 0.3,
			MaxEvents:           50,
			SimilarityWorkers:   4,
			UseOracle:           true,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/newsline/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/newsline/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "newsline", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "newsline", "config.yaml")
	}
	return filepath.Join(home, ".config", "newsline", "config.yaml")
}

// Load loads configuration for the project rooted at dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/newsline/config.yaml)
//  3. Project config (.newsline.yaml in project root)
//  4. Environment variables (NEWSLINE_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if projectPath := filepath.Join(dir, ProjectConfigName); fileExists(projectPath) {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML decodes a file over the current values, so keys absent from
// the file keep their earlier value and explicit zeros are honoured.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// envBinding binds one NEWSLINE_* variable to a config field.
type envBinding struct {
	name  string
	apply func(string) error
}

func (c *Config) envBindings() []envBinding {
	return []envBinding{
		{"DEFAULT_LIMIT", intSetter(&c.Search.DefaultLimit)},
		{"MAX_LIMIT", intSetter(&c.Search.MaxLimit)},
		{"TEMPORAL_ENABLED", boolSetter(&c.Search.Temporal.Enabled)},
		{"HALF_LIFE_DAYS", floatSetter(&c.Search.Temporal.HalfLifeDays)},
		{"TEMPORAL_WEIGHT", floatSetter(&c.Search.Temporal.Weight)},
		{"EXPANSION_ENABLED", boolSetter(&c.Search.Expansion.Enabled)},
		{"EXTRACT_ENTITIES", boolSetter(&c.Search.ExtractEntities)},
		{"CACHE_CAPACITY", intSetter(&c.Cache.Capacity)},
		{"CACHE_TTL", durationSetter(&c.Cache.TTL)},
		{"REDIS_ADDR", stringSetter(&c.Cache.RedisAddr)},
		{"REDIS_PASSWORD", stringSetter(&c.Cache.RedisPassword)},
		{"EMBEDDINGS_PROVIDER", stringSetter(&c.Embeddings.Provider)},
		{"EMBEDDINGS_MODEL", stringSetter(&c.Embeddings.Model)},
		{"OLLAMA_HOST", func(v string) error {
			c.Embeddings.Host = v
			c.Oracle.Host = v
			return nil
		}},
		{"ORACLE_PROVIDER", stringSetter(&c.Oracle.Provider)},
		{"ORACLE_MODEL", stringSetter(&c.Oracle.Model)},
		{"ORACLE_TIMEOUT", durationSetter(&c.Oracle.Timeout)},
		{"VECTOR_BACKEND", stringSetter(&c.Vector.Backend)},
		{"MILVUS_ADDRESS", stringSetter(&c.Vector.MilvusAddress)},
		{"DEDUP_THRESHOLD", floatSetter(&c.Timeline.DedupThreshold)},
		{"MIN_CONFIDENCE", floatSetter(&c.Timeline.MinConfidence)},
		{"MAX_EVENTS", intSetter(&c.Timeline.MaxEvents)},
		{"LOG_LEVEL", stringSetter(&c.Logging.Level)},
	}
}

// applyEnvOverrides applies NEWSLINE_* variables (highest precedence).
// Unparseable values are reported rather than ignored.
func (c *Config) applyEnvOverrides() error {
	for _, b := range c.envBindings() {
		v, ok := os.LookupEnv(EnvPrefix + b.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.apply(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, b.name, v, err)
		}
	}
	return nil
}

func stringSetter(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func intSetter(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func floatSetter(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func boolSetter(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func durationSetter(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

// FindProjectRoot walks up from startDir looking for .newsline.yaml, a
// .newsline data directory, or .git. Falls back to startDir.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if fileExists(filepath.Join(currentDir, ProjectConfigName)) ||
			dirExists(filepath.Join(currentDir, DataDirName)) ||
			dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Validate checks that every tunable is in range.
func (c *Config) Validate() error {
	s := c.Search
	if s.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be positive, got %d", s.DefaultLimit)
	}
	if s.MaxLimit < s.DefaultLimit {
		return fmt.Errorf("search.max_limit (%d) must be >= default_limit (%d)", s.MaxLimit, s.DefaultLimit)
	}
	if s.CandidatePool <= 0 {
		return fmt.Errorf("search.candidate_pool must be positive, got %d", s.CandidatePool)
	}
	for label, a := range s.Alpha {
		if a < 0 || a > 1 {
			return fmt.Errorf("search.alpha.%s must be between 0 and 1, got %f", label, a)
		}
	}
	if s.MinDF < 1 {
		return fmt.Errorf("search.min_df must be >= 1, got %d", s.MinDF)
	}
	if s.MaxDF <= 0 || s.MaxDF > 1 {
		return fmt.Errorf("search.max_df must be in (0, 1], got %f", s.MaxDF)
	}
	if s.MaxFeatures <= 0 {
		return fmt.Errorf("search.max_features must be positive, got %d", s.MaxFeatures)
	}
	if s.Temporal.HalfLifeDays <= 0 {
		return fmt.Errorf("search.temporal.half_life_days must be positive, got %f", s.Temporal.HalfLifeDays)
	}
	if s.Temporal.Weight < 0 || s.Temporal.Weight > 1 {
		return fmt.Errorf("search.temporal.weight must be between 0 and 1, got %f", s.Temporal.Weight)
	}
	if s.Expansion.MaxVariants < 1 {
		return fmt.Errorf("search.expansion.max_variants must be >= 1, got %d", s.Expansion.MaxVariants)
	}
	if s.Expansion.Weight <= 0 || s.Expansion.Weight > 1 {
		return fmt.Errorf("search.expansion.weight must be in (0, 1], got %f", s.Expansion.Weight)
	}
	if s.Expansion.ConsensusBoost < 0 {
		return fmt.Errorf("search.expansion.consensus_boost must not be negative, got %f", s.Expansion.ConsensusBoost)
	}

	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		return fmt.Errorf("classifier.min_confidence must be between 0 and 1, got %f", c.Classifier.MinConfidence)
	}

	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.MaxSequenceChars <= 0 {
		return fmt.Errorf("embeddings.max_sequence_chars must be positive, got %d", c.Embeddings.MaxSequenceChars)
	}

	switch strings.ToLower(c.Oracle.Provider) {
	case "ollama", "stub":
	default:
		return fmt.Errorf("oracle.provider must be 'ollama' or 'stub', got %s", c.Oracle.Provider)
	}
	if c.Oracle.MaxRetries < 0 {
		return fmt.Errorf("oracle.max_retries must be non-negative, got %d", c.Oracle.MaxRetries)
	}

	switch strings.ToLower(c.Vector.Backend) {
	case "hnsw":
	case "milvus":
		if c.Vector.MilvusAddress == "" {
			return fmt.Errorf("vector.milvus_address is required for the milvus backend")
		}
	default:
		return fmt.Errorf("vector.backend must be 'hnsw' or 'milvus', got %s", c.Vector.Backend)
	}

	t := c.Timeline
	if t.DedupThreshold <= 0 || t.DedupThreshold > 1 {
		return fmt.Errorf("timeline.dedup_threshold must be in (0, 1], got %f", t.DedupThreshold)
	}
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		return fmt.Errorf("timeline.min_confidence must be between 0 and 1, got %f", t.MinConfidence)
	}
	if t.ImportanceThreshold < 0 || t.ImportanceThreshold > 1 {
		return fmt.Errorf("timeline.importance_threshold must be between 0 and 1, got %f", t.ImportanceThreshold)
	}
	if t.MaxEvents <= 0 {
		return fmt.Errorf("timeline.max_events must be positive, got %d", t.MaxEvents)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
