package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration, mirroring the recognized
// options documented for vault setup: required paths, embedding settings,
// chunking bounds, cache ceilings, and the nested retriever/watcher/
// link-heal sections.
type Config struct {
	VaultRoot string `yaml:"vault_root" json:"vault_root"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`

	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`
	EmbeddingDim   int    `yaml:"embedding_dim" json:"embedding_dim"`

	ChunkSizeTarget int `yaml:"chunk_size_target" json:"chunk_size_target"`
	ChunkSizeMax    int `yaml:"chunk_size_max" json:"chunk_size_max"`

	CacheMemoryMaxMB float64 `yaml:"cache_memory_max_mb" json:"cache_memory_max_mb"`
	CacheDiskMaxMB   float64 `yaml:"cache_disk_max_mb" json:"cache_disk_max_mb"`

	Retriever RetrieverConfig `yaml:"retriever" json:"retriever"`
	Watcher   WatcherConfig   `yaml:"watcher" json:"watcher"`
	LinkHeal  LinkHealConfig  `yaml:"link_heal" json:"link_heal"`
}

// RetrieverConfig tunes the hybrid retriever (C10): fusion weights, the
// score floor, and optional cross-encoder reranking.
type RetrieverConfig struct {
	KDefault       int     `yaml:"k_default" json:"k_default"`
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	LexicalWeight  float64 `yaml:"lexical_weight" json:"lexical_weight"`
	MinScore       float64 `yaml:"min_score" json:"min_score"`
	RerankEnabled  bool    `yaml:"rerank_enabled" json:"rerank_enabled"`
	RerankTopN     int     `yaml:"rerank_top_n" json:"rerank_top_n"`
}

// WatcherConfig tunes the file watcher's (C8) per-path debounce.
type WatcherConfig struct {
	DebounceMs int `yaml:"debounce_ms" json:"debounce_ms"`
}

// LinkHealConfig tunes the link healer's (C11) suggestion threshold.
type LinkHealConfig struct {
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
}

// NewConfig returns a Config populated with the documented defaults.
// VaultRoot and DataDir are required and left empty; callers must set
// them before Validate will pass.
func NewConfig() *Config {
	return &Config{
		ChunkSizeTarget:  512,
		ChunkSizeMax:     1000,
		CacheMemoryMaxMB: 100,
		CacheDiskMaxMB:   500,
		Retriever: RetrieverConfig{
			KDefault:       10,
			SemanticWeight: 0.7,
			LexicalWeight:  0.3,
			MinScore:       0.3,
			RerankEnabled:  false,
			RerankTopN:     20,
		},
		Watcher: WatcherConfig{
			DebounceMs: 500,
		},
		LinkHeal: LinkHealConfig{
			MinConfidence: 0.7,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration
// file, following the XDG Base Directory convention:
//   - $XDG_CONFIG_HOME/vaultd/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/vaultd/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vaultd", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "vaultd", "config.yaml")
	}
	return filepath.Join(home, ".config", "vaultd", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if present.
// A missing file is not an error.
func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds a Config for the vault rooted at vaultRoot, applying
// sources in order of increasing precedence:
//  1. hardcoded defaults
//  2. user/global config (~/.config/vaultd/config.yaml)
//  3. vault-local config (<vault_root>/.vaultd.yaml)
//  4. environment variables (VAULTD_*)
//
// vault_root is set from the argument unless overridden by a later
// source. The result is validated before being returned.
func Load(vaultRoot string) (*Config, error) {
	cfg := NewConfig()
	cfg.VaultRoot = vaultRoot

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromVault(vaultRoot); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if cfg.VaultRoot == "" {
		cfg.VaultRoot = vaultRoot
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(vaultRoot, ".pkm-agent")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromVault attempts to load configuration from .vaultd.yaml or
// .vaultd.yml at the root of the vault.
func (c *Config) loadFromVault(vaultRoot string) error {
	yamlPath := filepath.Join(vaultRoot, ".vaultd.yaml")
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(vaultRoot, ".vaultd.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file. Unknown
// keys are ignored by yaml.v3's default (non-strict) unmarshal.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.VaultRoot != "" {
		c.VaultRoot = other.VaultRoot
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}
	if other.EmbeddingModel != "" {
		c.EmbeddingModel = other.EmbeddingModel
	}
	if other.EmbeddingDim != 0 {
		c.EmbeddingDim = other.EmbeddingDim
	}
	if other.ChunkSizeTarget != 0 {
		c.ChunkSizeTarget = other.ChunkSizeTarget
	}
	if other.ChunkSizeMax != 0 {
		c.ChunkSizeMax = other.ChunkSizeMax
	}
	if other.CacheMemoryMaxMB != 0 {
		c.CacheMemoryMaxMB = other.CacheMemoryMaxMB
	}
	if other.CacheDiskMaxMB != 0 {
		c.CacheDiskMaxMB = other.CacheDiskMaxMB
	}

	if other.Retriever.KDefault != 0 {
		c.Retriever.KDefault = other.Retriever.KDefault
	}
	if other.Retriever.SemanticWeight != 0 {
		c.Retriever.SemanticWeight = other.Retriever.SemanticWeight
	}
	if other.Retriever.LexicalWeight != 0 {
		c.Retriever.LexicalWeight = other.Retriever.LexicalWeight
	}
	if other.Retriever.MinScore != 0 {
		c.Retriever.MinScore = other.Retriever.MinScore
	}
	if other.Retriever.RerankEnabled {
		c.Retriever.RerankEnabled = true
	}
	if other.Retriever.RerankTopN != 0 {
		c.Retriever.RerankTopN = other.Retriever.RerankTopN
	}

	if other.Watcher.DebounceMs != 0 {
		c.Watcher.DebounceMs = other.Watcher.DebounceMs
	}

	if other.LinkHeal.MinConfidence != 0 {
		c.LinkHeal.MinConfidence = other.LinkHeal.MinConfidence
	}
}

// applyEnvOverrides applies VAULTD_* environment variable overrides,
// the highest-precedence configuration source.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VAULTD_VAULT_ROOT"); v != "" {
		c.VaultRoot = v
	}
	if v := os.Getenv("VAULTD_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("VAULTD_EMBEDDING_MODEL"); v != "" {
		c.EmbeddingModel = v
	}
	if v := os.Getenv("VAULTD_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.EmbeddingDim = n
		}
	}
	if v := os.Getenv("VAULTD_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retriever.SemanticWeight = w
		}
	}
	if v := os.Getenv("VAULTD_LEXICAL_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retriever.LexicalWeight = w
		}
	}
	if v := os.Getenv("VAULTD_MIN_SCORE"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retriever.MinScore = w
		}
	}
	if v := os.Getenv("VAULTD_RERANK_ENABLED"); v != "" {
		c.Retriever.RerankEnabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("VAULTD_WATCHER_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Watcher.DebounceMs = n
		}
	}
	if v := os.Getenv("VAULTD_LINK_HEAL_MIN_CONFIDENCE"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.LinkHeal.MinConfidence = w
		}
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate checks required fields and value ranges, returning an error
// describing the first problem found. Callers in the Config category
// should wrap this with errors.ConfigError at initialize time.
func (c *Config) Validate() error {
	if c.VaultRoot == "" {
		return fmt.Errorf("vault_root is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.ChunkSizeTarget <= 0 {
		return fmt.Errorf("chunk_size_target must be positive, got %d", c.ChunkSizeTarget)
	}
	if c.ChunkSizeMax < c.ChunkSizeTarget {
		return fmt.Errorf("chunk_size_max (%d) must be >= chunk_size_target (%d)", c.ChunkSizeMax, c.ChunkSizeTarget)
	}

	if c.CacheMemoryMaxMB < 0 {
		return fmt.Errorf("cache_memory_max_mb must be non-negative, got %f", c.CacheMemoryMaxMB)
	}
	if c.CacheDiskMaxMB < 0 {
		return fmt.Errorf("cache_disk_max_mb must be non-negative, got %f", c.CacheDiskMaxMB)
	}

	if c.Retriever.KDefault <= 0 {
		return fmt.Errorf("retriever.k_default must be positive, got %d", c.Retriever.KDefault)
	}
	if c.Retriever.SemanticWeight < 0 || c.Retriever.SemanticWeight > 1 {
		return fmt.Errorf("retriever.semantic_weight must be between 0 and 1, got %f", c.Retriever.SemanticWeight)
	}
	if c.Retriever.LexicalWeight < 0 || c.Retriever.LexicalWeight > 1 {
		return fmt.Errorf("retriever.lexical_weight must be between 0 and 1, got %f", c.Retriever.LexicalWeight)
	}
	sum := c.Retriever.SemanticWeight + c.Retriever.LexicalWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("retriever.semantic_weight + retriever.lexical_weight must equal 1.0, got %.2f", sum)
	}
	if c.Retriever.MinScore < 0 || c.Retriever.MinScore > 1 {
		return fmt.Errorf("retriever.min_score must be between 0 and 1, got %f", c.Retriever.MinScore)
	}
	if c.Retriever.RerankTopN <= 0 {
		return fmt.Errorf("retriever.rerank_top_n must be positive, got %d", c.Retriever.RerankTopN)
	}

	if c.Watcher.DebounceMs < 0 {
		return fmt.Errorf("watcher.debounce_ms must be non-negative, got %d", c.Watcher.DebounceMs)
	}

	if c.LinkHeal.MinConfidence < 0 || c.LinkHeal.MinConfidence > 1 {
		return fmt.Errorf("link_heal.min_confidence must be between 0 and 1, got %f", c.LinkHeal.MinConfidence)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
