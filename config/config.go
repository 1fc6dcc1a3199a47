// Package config loads the gateway configuration from a layered set of
// sources. Precedence, highest to lowest:
//  1. Environment variable overrides (active providers, service URLs)
//  2. Configuration file (YAML or JSON)
//  3. Environment-only defaults when no file is found
//
// File search order: the GATEWAY_CONFIG (or RAG_CONFIG_PATH) path, then
// ./rag-config.yaml, ./config/rag-config.yaml, ./services/config/rag-config.yaml,
// and $HOME/.config/rag/rag-config.yaml. API keys are never stored in the
// file; providers name the environment variable holding the key and the
// value is read at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/advanced-rag/vector-gateway/internal/rag"
)

// Provider types understood by the gateway.
const (
	TypeOpenAICompatible = "openai-compatible"
	// TypeOpenAI is an accepted alias for openai-compatible; older
	// config files use it.
	TypeOpenAI      = "openai"
	TypeCohere      = "cohere"
	TypeJina        = "jina"
	TypeCaikit      = "caikit"
	TypePassthrough = "passthrough"
)

// Default models and limits, matching the provider defaults documented in
// rag-config.yaml.
const (
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultRerankModel    = "rerank-english-v3.0"
	DefaultJinaModel      = "jina-reranker-v2-base-multilingual"

	DefaultMaxBatch          = 64
	DefaultMaxTokensPerInput = 8191
	DefaultMaxDocuments      = 1000

	// Cohere enforces tighter embedding limits than OpenAI-compatible
	// endpoints, and Caikit rerank deployments handle smaller candidate
	// lists.
	DefaultCohereMaxBatch          = 96
	DefaultCohereMaxTokensPerInput = 512
	DefaultCaikitMaxDocuments      = 100
)

// ProviderConfig is the common shape of a named provider entry.
type ProviderConfig struct {
	// Type selects the wire protocol: openai-compatible, cohere, jina,
	// caikit, or passthrough (rerank only).
	Type string `yaml:"type" json:"type"`
	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	// Model is the model identifier sent to the provider.
	Model string `yaml:"model" json:"model"`
}

// EmbeddingProvider configures one embedding backend.
type EmbeddingProvider struct {
	ProviderConfig `yaml:",inline"`

	// Dimensions, when set, is requested from providers that support
	// dimension reduction and used as the collection dim default.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// MaxBatch caps texts per API call.
	MaxBatch int `yaml:"max_batch" json:"max_batch"`
	// MaxTokensPerInput truncates longer inputs before embedding.
	MaxTokensPerInput int `yaml:"max_tokens_per_input" json:"max_tokens_per_input"`
}

// RerankProvider configures one rerank backend.
type RerankProvider struct {
	ProviderConfig `yaml:",inline"`

	// MaxDocuments caps the candidate list; longer lists are truncated,
	// never rejected.
	MaxDocuments int `yaml:"max_documents" json:"max_documents"`
}

// EmbeddingSection selects the active embedding provider.
type EmbeddingSection struct {
	Active    string                       `yaml:"active" json:"active"`
	Providers map[string]EmbeddingProvider `yaml:"providers" json:"providers"`
}

// RerankSection selects the active rerank provider. Active "" or "none"
// disables reranking (passthrough).
type RerankSection struct {
	Active    string                    `yaml:"active" json:"active"`
	Providers map[string]RerankProvider `yaml:"providers" json:"providers"`
}

// ServicesSection enables the service-first pattern: when a URL is set the
// providers call the dedicated service and fall back to the direct backend
// on any failure.
type ServicesSection struct {
	EmbeddingServiceURL string `yaml:"embedding_service_url" json:"embedding_service_url"`
	RerankServiceURL    string `yaml:"rerank_service_url" json:"rerank_service_url"`
}

// Timeouts are the remote-call budgets in seconds.
type Timeouts struct {
	EmbedSeconds   int `yaml:"embed_seconds" json:"embed_seconds"`
	RerankSeconds  int `yaml:"rerank_seconds" json:"rerank_seconds"`
	StoreSeconds   int `yaml:"store_seconds" json:"store_seconds"`
	RequestSeconds int `yaml:"request_seconds" json:"request_seconds"`
}

// Embed returns the embedding call budget.
func (t Timeouts) Embed() time.Duration { return time.Duration(t.EmbedSeconds) * time.Second }

// Rerank returns the rerank call budget.
func (t Timeouts) Rerank() time.Duration { return time.Duration(t.RerankSeconds) * time.Second }

// Store returns the vector-store call budget.
func (t Timeouts) Store() time.Duration { return time.Duration(t.StoreSeconds) * time.Second }

// Request returns the end-to-end soft budget.
func (t Timeouts) Request() time.Duration { return time.Duration(t.RequestSeconds) * time.Second }

// Settings are the flat process settings read from the environment only.
type Settings struct {
	Backend        string `env:"GATEWAY_BACKEND" envDefault:"milvus"`
	Addr           string `env:"GATEWAY_ADDR" envDefault:":8001"`
	AuthToken      string `env:"AUTH_TOKEN"`
	MaxDocs        int    `env:"GATEWAY_MAX_DOCS" envDefault:"10000"`
	RequireBackend string `env:"GATEWAY_REQUIRE_BACKEND" envDefault:"0"`
	ConfigPath     string `env:"GATEWAY_CONFIG"`

	DefaultCollection string `env:"MILVUS_COLLECTION" envDefault:"rag_gateway"`
	MilvusHost        string `env:"MILVUS_HOST" envDefault:"localhost"`
	MilvusPort        string `env:"MILVUS_PORT" envDefault:"19530"`
	MilvusUser        string `env:"MILVUS_USER"`
	MilvusPassword    string `env:"MILVUS_PASSWORD"`
	MilvusDim         int    `env:"MILVUS_DIM"`

	EmbeddingServiceToken string `env:"EMBEDDING_SERVICE_TOKEN"`
	ServiceAuthToken      string `env:"SERVICE_AUTH_TOKEN"`
}

// BackendRequired reports whether startup must fail when the requested
// vector store is unreachable. Accepts 1/true/yes.
func (s *Settings) BackendRequired() bool {
	switch strings.ToLower(s.RequireBackend) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// ServiceToken returns the bearer token sent to the embedding/rerank
// services, preferring EMBEDDING_SERVICE_TOKEN over SERVICE_AUTH_TOKEN.
func (s *Settings) ServiceToken() string {
	if s.EmbeddingServiceToken != "" {
		return s.EmbeddingServiceToken
	}
	return s.ServiceAuthToken
}

// MilvusAddress joins host and port for the SDK client.
func (s *Settings) MilvusAddress() string {
	return s.MilvusHost + ":" + s.MilvusPort
}

// RagConfig is the complete resolved configuration. It is built once in
// main and passed by reference; nothing in the gateway reads it through a
// package-level singleton.
type RagConfig struct {
	Embedding EmbeddingSection `yaml:"embedding" json:"embedding"`
	Rerank    RerankSection    `yaml:"rerank" json:"rerank"`
	Services  ServicesSection  `yaml:"services" json:"services"`
	Timeouts  Timeouts         `yaml:"timeouts" json:"timeouts"`

	// Settings come from the environment, never from the file.
	Settings Settings `yaml:"-" json:"-"`

	// Path of the file the config was loaded from, empty when built from
	// environment defaults.
	Source string `yaml:"-" json:"-"`
}

var searchPaths = []string{
	"rag-config.yaml",
	filepath.Join("config", "rag-config.yaml"),
	filepath.Join("services", "config", "rag-config.yaml"),
}

// Load resolves the full gateway configuration: env settings, then the
// config file (or env-only defaults), then env overrides on top.
func Load() (*RagConfig, error) {
	var settings Settings
	if err := env.Parse(&settings); err != nil {
		return nil, rag.Wrap(rag.KindConfig, "parsing environment settings", err)
	}

	cfg := &RagConfig{}
	path := findConfigFile(settings.ConfigPath)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, rag.Wrap(rag.KindConfig, fmt.Sprintf("reading config file %s", path), err)
		}
		// yaml.v3 parses JSON as well, so .json configs take the same path.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, rag.Wrap(rag.KindConfig, fmt.Sprintf("parsing config file %s", path), err)
		}
		cfg.Source = path
	} else {
		cfg = buildFromEnv()
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	cfg.Settings = settings

	rag.GlobalLogger.Debug("configuration loaded",
		"source", sourceName(cfg.Source),
		"embedding_provider", cfg.Embedding.Active,
		"rerank_provider", cfg.Rerank.Active)
	return cfg, nil
}

func sourceName(path string) string {
	if path == "" {
		return "environment"
	}
	return path
}

// findConfigFile picks the config file path. An explicit path that does not
// exist disables the search entirely (environment-only defaults are used),
// matching the reference deployment behavior.
func findConfigFile(explicit string) string {
	if explicit == "" {
		explicit = os.Getenv("RAG_CONFIG_PATH")
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		rag.GlobalLogger.Warn("configured config path not found, using environment defaults",
			"path", explicit)
		return ""
	}

	candidates := append([]string{}, searchPaths...)
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "rag", "rag-config.yaml"))
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// buildFromEnv assembles a configuration from environment variables only,
// for deployments that never ship a config file.
func buildFromEnv() *RagConfig {
	embedModel := firstEnv("EMBEDDING_MODEL", "OPENAI_EMBEDDING_MODEL")
	if embedModel == "" {
		embedModel = DefaultEmbeddingModel
	}
	embedBase := firstEnv("EMBEDDING_BASE_URL", "OPENAI_BASE_URL")

	cfg := &RagConfig{
		Embedding: EmbeddingSection{
			Active: "openai",
			Providers: map[string]EmbeddingProvider{
				"openai": {
					ProviderConfig: ProviderConfig{
						Type:      TypeOpenAICompatible,
						BaseURL:   embedBase,
						APIKeyEnv: "EMBEDDING_API_KEY",
						Model:     embedModel,
					},
				},
			},
		},
		Rerank: RerankSection{
			Active: "none",
			Providers: map[string]RerankProvider{
				"none": {ProviderConfig: ProviderConfig{Type: TypePassthrough, Model: "none"}},
			},
		},
		Services: ServicesSection{
			EmbeddingServiceURL: os.Getenv("EMBEDDING_SERVICE_URL"),
			RerankServiceURL:    os.Getenv("RERANK_SERVICE_URL"),
		},
	}

	rerankModel := firstEnv("RERANK_MODEL", "OPENAI_RERANK_MODEL")
	switch strings.ToLower(os.Getenv("RERANK_PROVIDER")) {
	case "", "none":
	case "cohere":
		if rerankModel == "" {
			rerankModel = DefaultRerankModel
		}
		cfg.Rerank.Active = "cohere"
		cfg.Rerank.Providers["cohere"] = RerankProvider{ProviderConfig: ProviderConfig{
			Type:      TypeCohere,
			BaseURL:   os.Getenv("RERANK_BASE_URL"),
			APIKeyEnv: "COHERE_API_KEY",
			Model:     rerankModel,
		}}
	case "jina":
		if rerankModel == "" {
			rerankModel = DefaultJinaModel
		}
		cfg.Rerank.Active = "jina"
		cfg.Rerank.Providers["jina"] = RerankProvider{ProviderConfig: ProviderConfig{
			Type:      TypeJina,
			BaseURL:   os.Getenv("RERANK_BASE_URL"),
			APIKeyEnv: "JINA_API_KEY",
			Model:     rerankModel,
		}}
	case "caikit":
		cfg.Rerank.Active = "caikit"
		cfg.Rerank.Providers["caikit"] = RerankProvider{ProviderConfig: ProviderConfig{
			Type:    TypeCaikit,
			BaseURL: os.Getenv("RERANK_BASE_URL"),
			Model:   rerankModel,
		}}
	default:
		// Leave the unknown name active; resolution reports it as undefined.
		cfg.Rerank.Active = strings.ToLower(os.Getenv("RERANK_PROVIDER"))
	}

	return cfg
}

// applyDefaults fills zero-valued limits with the documented defaults
// for each provider type.
func applyDefaults(cfg *RagConfig) {
	for name, p := range cfg.Embedding.Providers {
		if p.MaxBatch <= 0 {
			p.MaxBatch = DefaultMaxBatch
			if p.Type == TypeCohere {
				p.MaxBatch = DefaultCohereMaxBatch
			}
		}
		if p.MaxTokensPerInput <= 0 {
			p.MaxTokensPerInput = DefaultMaxTokensPerInput
			if p.Type == TypeCohere {
				p.MaxTokensPerInput = DefaultCohereMaxTokensPerInput
			}
		}
		cfg.Embedding.Providers[name] = p
	}
	for name, p := range cfg.Rerank.Providers {
		if p.MaxDocuments <= 0 {
			p.MaxDocuments = DefaultMaxDocuments
			if p.Type == TypeCaikit {
				p.MaxDocuments = DefaultCaikitMaxDocuments
			}
		}
		cfg.Rerank.Providers[name] = p
	}
	if cfg.Timeouts.EmbedSeconds <= 0 {
		cfg.Timeouts.EmbedSeconds = 30
	}
	if cfg.Timeouts.RerankSeconds <= 0 {
		cfg.Timeouts.RerankSeconds = 30
	}
	if cfg.Timeouts.StoreSeconds <= 0 {
		cfg.Timeouts.StoreSeconds = 60
	}
	if cfg.Timeouts.RequestSeconds <= 0 {
		cfg.Timeouts.RequestSeconds = 90
	}
}

// applyEnvOverrides applies the override variables that win over file
// contents even when a config file is present.
func applyEnvOverrides(cfg *RagConfig) {
	if v := os.Getenv("RAG_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Active = v
	}
	if v := os.Getenv("RAG_RERANK_PROVIDER"); v != "" {
		cfg.Rerank.Active = v
	}
	if v := os.Getenv("EMBEDDING_SERVICE_URL"); v != "" {
		cfg.Services.EmbeddingServiceURL = v
	}
	if v := os.Getenv("RERANK_SERVICE_URL"); v != "" {
		cfg.Services.RerankServiceURL = v
	}
}

// ActiveEmbedding resolves the active embedding provider. A missing
// "openai" entry is synthesized from legacy environment variables so
// env-var-only deployments keep working with a partial config file.
func (c *RagConfig) ActiveEmbedding() (EmbeddingProvider, error) {
	active := c.Embedding.Active
	if p, ok := c.Embedding.Providers[active]; ok {
		return p, nil
	}
	if active == "openai" {
		model := firstEnv("EMBEDDING_MODEL", "OPENAI_EMBEDDING_MODEL")
		if model == "" {
			model = DefaultEmbeddingModel
		}
		p := EmbeddingProvider{
			ProviderConfig: ProviderConfig{
				Type:      TypeOpenAICompatible,
				BaseURL:   firstEnv("EMBEDDING_BASE_URL", "OPENAI_BASE_URL"),
				APIKeyEnv: "EMBEDDING_API_KEY",
				Model:     model,
			},
			MaxBatch:          DefaultMaxBatch,
			MaxTokensPerInput: DefaultMaxTokensPerInput,
		}
		return p, nil
	}
	return EmbeddingProvider{}, rag.Errorf(rag.KindConfig,
		"embedding provider %q not defined in config (set RAG_EMBEDDING_PROVIDER or add it to rag-config.yaml)", active)
}

// ActiveRerank resolves the active rerank provider. It returns nil when
// reranking is disabled (active missing, "", or "none").
func (c *RagConfig) ActiveRerank() (*RerankProvider, error) {
	active := c.Rerank.Active
	if active == "" || active == "none" {
		return nil, nil
	}
	if p, ok := c.Rerank.Providers[active]; ok {
		if p.Type == TypePassthrough {
			return nil, nil
		}
		return &p, nil
	}
	if active == "cohere" {
		model := firstEnv("RERANK_MODEL", "OPENAI_RERANK_MODEL")
		if model == "" {
			model = DefaultRerankModel
		}
		return &RerankProvider{
			ProviderConfig: ProviderConfig{
				Type:      TypeCohere,
				BaseURL:   os.Getenv("RERANK_BASE_URL"),
				APIKeyEnv: "COHERE_API_KEY",
				Model:     model,
			},
			MaxDocuments: DefaultMaxDocuments,
		}, nil
	}
	return nil, rag.Errorf(rag.KindConfig,
		"rerank provider %q not defined in config (set RAG_RERANK_PROVIDER or add it to rag-config.yaml)", active)
}

// ResolveAPIKey reads the key named by apiKeyEnv, walking the legacy
// fallback chain when the primary variable is empty:
// EMBEDDING_API_KEY and RERANK_API_KEY fall back to OPENAI_API_KEY,
// COHERE_API_KEY falls back to RERANK_API_KEY.
func ResolveAPIKey(apiKeyEnv string) string {
	if apiKeyEnv == "" {
		return ""
	}
	if key := os.Getenv(apiKeyEnv); key != "" {
		return key
	}
	switch apiKeyEnv {
	case "EMBEDDING_API_KEY", "RERANK_API_KEY":
		return os.Getenv("OPENAI_API_KEY")
	case "COHERE_API_KEY":
		return os.Getenv("RERANK_API_KEY")
	}
	return ""
}

// RequireEmbeddingKey resolves the embedding API key, with OPENAI_API_KEY
// as the final fallback. Missing keys are a configuration error naming the
// variables to set.
func RequireEmbeddingKey(p EmbeddingProvider) (string, error) {
	key := ResolveAPIKey(p.APIKeyEnv)
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return "", rag.Errorf(rag.KindConfig,
			"no API key found for embeddings: set %s or OPENAI_API_KEY, or configure api_key_env in rag-config.yaml",
			orDefault(p.APIKeyEnv, "EMBEDDING_API_KEY"))
	}
	return key, nil
}

// RequireRerankKey resolves the rerank API key with the provider-specific
// fallbacks used by existing deployments.
func RequireRerankKey(p *RerankProvider) (string, error) {
	key := ResolveAPIKey(p.APIKeyEnv)
	if key == "" {
		if p.Type == TypeCohere {
			key = firstEnv("COHERE_API_KEY", "RERANK_API_KEY")
		} else {
			key = firstEnv("RERANK_API_KEY", "OPENAI_API_KEY")
		}
	}
	if key == "" {
		return "", rag.Errorf(rag.KindConfig,
			"no API key found for rerank provider %q: set %s, or configure api_key_env in rag-config.yaml",
			p.Type, orDefault(p.APIKeyEnv, "RERANK_API_KEY"))
	}
	return key, nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
