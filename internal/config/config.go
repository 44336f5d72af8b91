// Package config loads agentcore's configuration (SPEC_FULL.md §4.M):
// environment variables per spec.md §6, with an optional YAML override file
// for local/dev use. A small subset of fields is hot-swappable at runtime
// via Watcher; identifiers like database/KV URLs require a process restart.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loomrun/agentcore/internal/errs"
)

// Config is the fully resolved, typed configuration for one agentcored
// process.
type Config struct {
	// LLM
	LLMAPIKey       string           `yaml:"-"` // env only, never written to disk
	LLMBaseURL      string           `yaml:"llm_base_url"`
	LLMDefaultModel string           `yaml:"llm_default_model"`
	LLMTokenBudgets map[string]int   `yaml:"llm_token_budgets"`

	// KV / message substrate
	KVURL string `yaml:"-"` // requires restart; env only

	// Postgres is an extension beyond spec.md §6's documented env vars: the
	// spec names no SQL DSN, only KV_URL for the pub/sub substrate. Empty
	// keeps every store backed by internal/store/memory; set it to run
	// agentcored against internal/store/postgres instead.
	PostgresDSN string `yaml:"-"`

	// MongoRunStoreURI, if set, swaps only the RunStore backend for
	// internal/store/mongo regardless of PostgresDSN — run status is a
	// small, heavily-read record well suited to a document store, so a
	// deployment can run Postgres (or memory) for messages/projects and
	// Mongo for run status independently.
	MongoRunStoreURI string `yaml:"-"`
	MongoDatabase    string `yaml:"mongo_database"`

	// Sandbox provider. SandboxProviderURL selects the backend: "droplet"
	// wires internal/sandbox/droplet (requires DropletSSHKeyPath and the
	// Droplet* fields below); anything else (including empty) falls back to
	// internal/sandbox/local rooted at SandboxLocalDir.
	SandboxProviderURL string `yaml:"-"`
	SandboxAPIKey      string `yaml:"-"`
	SandboxLocalDir    string `yaml:"sandbox_local_dir"`
	DropletRegion      string `yaml:"droplet_region"`
	DropletSize        string `yaml:"droplet_size"`
	DropletImage       string `yaml:"droplet_image"`
	DropletSSHKeyPath  string `yaml:"-"`
	DropletSSHKeyIDs   []int  `yaml:"droplet_ssh_key_ids"`

	// Run Manager / admission
	RunWorkerPoolSize       int `yaml:"run_worker_pool_size"`
	AdmissionTimeoutSeconds int `yaml:"admission_timeout_seconds"`
	ResponseListTTLSeconds  int `yaml:"response_list_ttl_seconds"`

	// Context Manager
	ContextThresholdRatio float64 `yaml:"context_threshold_ratio"`
	ContextTargetRatio    float64 `yaml:"context_target_ratio"`

	// Ambient
	LogLevel      string `yaml:"log_level"`
	RateLimitRPS  float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int    `yaml:"rate_limit_burst"`
	HTTPAddr      string `yaml:"http_addr"`

	// Optional external data providers (SPEC_FULL.md §4.K). Each is
	// registered only when fully configured; a deployment that leaves them
	// unset simply doesn't expose that tool to the LLM.
	MailHost     string `yaml:"-"`
	MailPort     string `yaml:"mail_port"`
	MailUsername string `yaml:"-"`
	MailPassword string `yaml:"-"`
}

// hotSwappable lists the Config fields Watcher is allowed to mutate in place.
// Everything else (URLs, API keys, pool sizing) requires a restart, per
// SPEC_FULL.md §4.M.
var hotSwappable = map[string]bool{
	"log_level":        true,
	"rate_limit_rps":   true,
	"rate_limit_burst": true,
	"llm_token_budgets": true,
}

// Default returns a Config with every documented default applied
// (spec.md §6, plus the ambient fields SPEC_FULL.md adds).
func Default() Config {
	return Config{
		LLMDefaultModel:         "",
		RunWorkerPoolSize:       0, // 0 means "runtime.NumCPU() * 4" at engine construction time, spec §5
		AdmissionTimeoutSeconds: 60,
		ResponseListTTLSeconds:  86400,
		ContextThresholdRatio:   0.75,
		ContextTargetRatio:      0.40,
		LogLevel:                "info",
		RateLimitRPS:            50,
		RateLimitBurst:          100,
		HTTPAddr:                ":8080",
		MongoDatabase:           "agentcore",
	}
}

// Load resolves a Config from environment variables layered over an
// optional YAML override file (yamlPath may be empty to skip it). Env vars
// always take precedence over the YAML file, matching the teacher's own
// "env wins" layering for runtime configuration.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, errs.Wrap(errs.Internal, "read config file", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errs.Wrap(errs.InvalidRequest, "parse config file", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.LLMAPIKey = envOr("LLM_API_KEY", cfg.LLMAPIKey)
	cfg.LLMBaseURL = envOr("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMDefaultModel = envOr("LLM_DEFAULT_MODEL", cfg.LLMDefaultModel)
	if budgets := os.Getenv("LLM_TOKEN_BUDGETS"); budgets != "" {
		cfg.LLMTokenBudgets = parseTokenBudgets(budgets)
	}

	cfg.KVURL = envOr("KV_URL", cfg.KVURL)
	cfg.PostgresDSN = envOr("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.MongoRunStoreURI = envOr("MONGO_RUN_STORE_URI", cfg.MongoRunStoreURI)
	cfg.MongoDatabase = envOr("MONGO_DATABASE", cfg.MongoDatabase)

	cfg.SandboxProviderURL = envOr("SANDBOX_PROVIDER_URL", cfg.SandboxProviderURL)
	cfg.SandboxAPIKey = envOr("SANDBOX_API_KEY", cfg.SandboxAPIKey)
	cfg.SandboxLocalDir = envOr("SANDBOX_LOCAL_DIR", cfg.SandboxLocalDir)
	cfg.DropletRegion = envOr("SANDBOX_DROPLET_REGION", cfg.DropletRegion)
	cfg.DropletSize = envOr("SANDBOX_DROPLET_SIZE", cfg.DropletSize)
	cfg.DropletImage = envOr("SANDBOX_DROPLET_IMAGE", cfg.DropletImage)
	cfg.DropletSSHKeyPath = envOr("SANDBOX_DROPLET_SSH_KEY_PATH", cfg.DropletSSHKeyPath)
	if ids := os.Getenv("SANDBOX_DROPLET_SSH_KEY_IDS"); ids != "" {
		cfg.DropletSSHKeyIDs = parseIntList(ids)
	}

	cfg.MailHost = envOr("MAIL_HOST", cfg.MailHost)
	cfg.MailPort = envOr("MAIL_PORT", cfg.MailPort)
	cfg.MailUsername = envOr("MAIL_USERNAME", cfg.MailUsername)
	cfg.MailPassword = envOr("MAIL_PASSWORD", cfg.MailPassword)

	cfg.RunWorkerPoolSize = envIntOr("RUN_WORKER_POOL_SIZE", cfg.RunWorkerPoolSize)
	cfg.AdmissionTimeoutSeconds = envIntOr("ADMISSION_TIMEOUT_SECONDS", cfg.AdmissionTimeoutSeconds)
	cfg.ResponseListTTLSeconds = envIntOr("RESPONSE_LIST_TTL_SECONDS", cfg.ResponseListTTLSeconds)

	cfg.ContextThresholdRatio = envFloatOr("CONTEXT_THRESHOLD_RATIO", cfg.ContextThresholdRatio)
	cfg.ContextTargetRatio = envFloatOr("CONTEXT_TARGET_RATIO", cfg.ContextTargetRatio)

	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.RateLimitRPS = envFloatOr("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = envIntOr("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.HTTPAddr = envOr("HTTP_ADDR", cfg.HTTPAddr)
}

// AdmissionTimeout returns AdmissionTimeoutSeconds as a time.Duration.
func (c Config) AdmissionTimeout() time.Duration {
	return time.Duration(c.AdmissionTimeoutSeconds) * time.Second
}

// ResponseListTTL returns ResponseListTTLSeconds as a time.Duration.
func (c Config) ResponseListTTL() time.Duration {
	return time.Duration(c.ResponseListTTLSeconds) * time.Second
}

// Validate rejects configurations that would make the rest of the system
// misbehave silently: a context ratio outside its range, a target ratio
// not below the threshold ratio, or a non-positive admission timeout.
func (c Config) Validate() error {
	if c.ContextThresholdRatio <= 0 || c.ContextThresholdRatio > 1 {
		return errs.New(errs.InvalidRequest, "context_threshold_ratio must be in (0, 1]")
	}
	if c.ContextTargetRatio <= 0 || c.ContextTargetRatio >= c.ContextThresholdRatio {
		return errs.New(errs.InvalidRequest, "context_target_ratio must be in (0, context_threshold_ratio)")
	}
	if c.AdmissionTimeoutSeconds <= 0 {
		return errs.New(errs.InvalidRequest, "admission_timeout_seconds must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOr(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// parseIntList parses "1,2,3" into []int, skipping entries that don't parse.
func parseIntList(raw string) []int {
	var out []int
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// parseTokenBudgets parses "model-a=8000,model-b=16000" into a map. Entries
// that don't parse as "name=int" are skipped rather than failing startup.
func parseTokenBudgets(raw string) map[string]int {
	out := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		out[strings.TrimSpace(k)] = n
	}
	return out
}
