package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"repodigest/internal/digest"
)

type Config struct {
	Port string

	// Auth
	RepodigestAPIKey string

	// GitHub access
	GitHubToken string

	// LLM endpoint
	LLMAPIKey           string
	LLMBaseURL          string
	LLMModelID          string
	ContextWindowTokens int
	LLMTemperature      float64
	LLMTopP             float64
	LLMMaxOutputTokens  int
	LLMMaxRetries       int

	// Budget
	MaxRepoDataRatio       float64
	BytesPerTokenEstimate  float64
	WeightDocumentation    float64
	WeightBuildPackage     float64
	WeightTests            float64
	WeightCode             float64

	// Per-category fetch caps
	MaxDocumentationBytes int64
	MaxTestsBytes         int64
	MaxCodeBytes          int64
	MaxBuildPackageBytes  int64
	MaxSingleFileBytes    int64
	MaxCodeFiles          int
	MaxBuildPackageFiles  int
	MaxCodeDepth          int
	MaxBuildPackageDepth  int

	// Fetch timing
	MaxCategoryFetchTime time.Duration
	MaxTotalFetchTime    time.Duration
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8091"),

		RepodigestAPIKey: os.Getenv("REPODIGEST_API_KEY"),

		GitHubToken: os.Getenv("GITHUB_TOKEN"),

		LLMAPIKey:           os.Getenv("LLM_API_KEY"),
		LLMBaseURL:          envOr("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModelID:          envOr("LLM_MODEL_ID", "gpt-4o-mini"),
		ContextWindowTokens: envInt("MODEL_CONTEXT_WINDOW_TOKENS", 128000),
		LLMTemperature:      envFloat("LLM_TEMPERATURE", 0.2),
		LLMTopP:             envFloat("LLM_TOP_P", 1.0),
		LLMMaxOutputTokens:  envInt("LLM_MAX_OUTPUT_TOKENS", 2000),
		LLMMaxRetries:       envInt("LLM_MAX_RETRIES", 2),

		MaxRepoDataRatio:      envFloat("MAX_REPO_DATA_RATIO", 0.65),
		BytesPerTokenEstimate: envFloat("BYTES_PER_TOKEN_ESTIMATE", 4.0),
		WeightDocumentation:   envFloat("WEIGHT_DOCUMENTATION", 0.40),
		WeightBuildPackage:    envFloat("WEIGHT_BUILD_PACKAGE", 0.20),
		WeightTests:           envFloat("WEIGHT_TESTS", 0.20),
		WeightCode:            envFloat("WEIGHT_CODE", 0.20),

		MaxDocumentationBytes: envInt64("MAX_DOCUMENTATION_BYTES", 250000),
		MaxTestsBytes:         envInt64("MAX_TESTS_BYTES", 250000),
		MaxCodeBytes:          envInt64("MAX_CODE_BYTES", 400000),
		MaxBuildPackageBytes:  envInt64("MAX_BUILD_PACKAGE_BYTES", 120000),
		MaxSingleFileBytes:    envInt64("MAX_SINGLE_FILE_BYTES", 100000),
		MaxCodeFiles:          envInt("MAX_CODE_FILES", 40),
		MaxBuildPackageFiles:  envInt("MAX_BUILD_PACKAGE_FILES", 20),
		MaxCodeDepth:          envInt("MAX_CODE_DEPTH", 4),
		MaxBuildPackageDepth:  envInt("MAX_BUILD_PACKAGE_DEPTH", 2),

		MaxCategoryFetchTime: envDuration("MAX_CATEGORY_FETCH_TIME", 30*time.Second),
		MaxTotalFetchTime:    envDuration("MAX_TOTAL_FETCH_TIME", 60*time.Second),
	}

	if cfg.LLMMaxOutputTokens <= 0 {
		cfg.LLMMaxOutputTokens = 2000
	}
	if cfg.LLMMaxRetries < 0 {
		cfg.LLMMaxRetries = 2
	}
	if cfg.MaxSingleFileBytes <= 0 {
		cfg.MaxSingleFileBytes = 100000
	}
	if cfg.MaxCodeFiles <= 0 {
		cfg.MaxCodeFiles = 40
	}
	if cfg.MaxBuildPackageFiles <= 0 {
		cfg.MaxBuildPackageFiles = 20
	}
	if cfg.MaxCodeDepth <= 0 {
		cfg.MaxCodeDepth = 4
	}
	if cfg.MaxBuildPackageDepth <= 0 {
		cfg.MaxBuildPackageDepth = 2
	}
	if cfg.MaxCategoryFetchTime <= 0 {
		cfg.MaxCategoryFetchTime = 30 * time.Second
	}
	if cfg.MaxTotalFetchTime <= 0 {
		cfg.MaxTotalFetchTime = 60 * time.Second
	}

	return cfg
}

func (c Config) Validate() error {
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.ContextWindowTokens <= 0 {
		return fmt.Errorf("MODEL_CONTEXT_WINDOW_TOKENS must be positive")
	}
	if c.MaxRepoDataRatio <= 0 || c.MaxRepoDataRatio >= 1 {
		return fmt.Errorf("MAX_REPO_DATA_RATIO must be in (0, 1)")
	}
	if c.BytesPerTokenEstimate <= 0 {
		return fmt.Errorf("BYTES_PER_TOKEN_ESTIMATE must be positive")
	}
	weights := c.Weights()
	total := 0.0
	for key, w := range weights {
		if w < 0 {
			return fmt.Errorf("weight for %s must be non-negative", key)
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("at least one category weight must be positive")
	}
	if c.MaxDocumentationBytes <= 0 || c.MaxTestsBytes <= 0 || c.MaxCodeBytes <= 0 || c.MaxBuildPackageBytes <= 0 {
		return fmt.Errorf("per-category byte caps must be positive")
	}
	return nil
}

// Weights returns the optional-category allocation weights.
func (c Config) Weights() map[digest.Category]float64 {
	return map[digest.Category]float64{
		digest.Documentation: c.WeightDocumentation,
		digest.BuildPackage:  c.WeightBuildPackage,
		digest.Tests:         c.WeightTests,
		digest.Code:          c.WeightCode,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
