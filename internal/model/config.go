package model

// Config is the complete petitrace configuration
type Config struct {
	LogLevel   string           `yaml:"log_level" mapstructure:"log_level"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Merge      MergeConfig      `yaml:"merge" mapstructure:"merge"`
	Argument   ArgumentConfig   `yaml:"argument" mapstructure:"argument"`
	Mapping    MappingConfig    `yaml:"mapping" mapstructure:"mapping"`
	Provenance ProvenanceConfig `yaml:"provenance" mapstructure:"provenance"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
}

// LLMConfig selects and tunes the LLM provider
type LLMConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, "" (disabled)
	Model             string  `yaml:"model" mapstructure:"model"`
	APIKey            string  `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL           string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout           int     `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float32 `yaml:"temperature" mapstructure:"temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	HTTPProxy         string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy           string  `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// CacheConfig controls LLM response caching
type CacheConfig struct {
	Enabled          bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir              string `yaml:"dir" mapstructure:"dir"`
	MemoryTTLMinutes int    `yaml:"memory_ttl_minutes" mapstructure:"memory_ttl_minutes"`
	DiskTTLHours     int    `yaml:"disk_ttl_hours" mapstructure:"disk_ttl_hours"`
}

// ExtractionConfig controls snippet batching for entity extraction
type ExtractionConfig struct {
	ChunkChars    int `yaml:"chunk_chars" mapstructure:"chunk_chars"`
	ChunkSnippets int `yaml:"chunk_snippets" mapstructure:"chunk_snippets"`
	Concurrency   int `yaml:"concurrency" mapstructure:"concurrency"`
}

// MergeConfig controls alias clustering
type MergeConfig struct {
	CandidateThreshold float64 `yaml:"candidate_threshold" mapstructure:"candidate_threshold"`
	MinConfidence      float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	Parallelism        int     `yaml:"parallelism" mapstructure:"parallelism"`
}

// ArgumentConfig controls subject matching
type ArgumentConfig struct {
	SubjectThreshold float64 `yaml:"subject_threshold" mapstructure:"subject_threshold"`
}

// MappingConfig controls the mapping graph rules
type MappingConfig struct {
	AllowMultiple bool `yaml:"allow_multiple" mapstructure:"allow_multiple"`
}

// ProvenanceConfig controls semantic matching
type ProvenanceConfig struct {
	MinSimilarity float64 `yaml:"min_similarity" mapstructure:"min_similarity"`
	TopK          int     `yaml:"top_k" mapstructure:"top_k"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite, memory
	Path   string `yaml:"path" mapstructure:"path"`
}

// OCRConfig locates OCR output
type OCRConfig struct {
	Dir            string `yaml:"dir,omitempty" mapstructure:"dir"`
	BaseURL        string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxBytes       int64  `yaml:"max_bytes" mapstructure:"max_bytes"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr   string `yaml:"addr" mapstructure:"addr"`
	APIKey string `yaml:"api_key,omitempty" mapstructure:"api_key"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		LLM: LLMConfig{
			Provider:          "", // disabled by default
			Timeout:           60,
			MaxTokens:         2000,
			Temperature:       0.1,
			RequestsPerSecond: 2,
		},
		Cache: CacheConfig{
			Enabled:          true,
			Dir:              "~/.petitrace/cache",
			MemoryTTLMinutes: 30,
			DiskTTLHours:     24 * 7,
		},
		Extraction: ExtractionConfig{
			ChunkChars:    1500,
			ChunkSnippets: 3,
			Concurrency:   4,
		},
		Merge: MergeConfig{
			CandidateThreshold: 0.5,
			MinConfidence:      0.7,
			Parallelism:        4,
		},
		Argument: ArgumentConfig{
			SubjectThreshold: 0.6,
		},
		Provenance: ProvenanceConfig{
			MinSimilarity: 0.35,
			TopK:          3,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "~/.petitrace/petitrace.db",
		},
		OCR: OCRConfig{
			TimeoutSeconds: 30,
			MaxBytes:       20_000_000,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8640",
		},
	}
}
