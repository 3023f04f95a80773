package app

import (
	"strings"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/envutil"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
)

// Config is every env-derived setting the app needs at startup: a
// flat struct, one field per env var, loaded once at New().
type Config struct {
	Port string

	PostgresDSN string
	SqliteFile  string

	ProcessingRoot string
	OutputRoot     string
	ProfilesDir    string
	PromptsDir     string

	ASRBaseURL string
	ASRAPIKey  string
	ASRModel   string

	AdminAPIKey       string
	JobRateLimitRPS   float64
	JobRateLimitBurst int

	AllowOrigins []string

	DiarizeScriptPath string
	HuggingFaceToken  string

	RedisAddr string
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port: envutil.GetEnv("PORT", "8080"),

		PostgresDSN: envutil.GetEnv("DATABASE_URL", ""),
		SqliteFile:  envutil.GetEnv("SQLITE_FILE", ""),

		ProcessingRoot: envutil.GetEnv("PROCESSING_ROOT", "./data/processing"),
		OutputRoot:     envutil.GetEnv("OUTPUT_ROOT", "./data/output"),
		ProfilesDir:    envutil.GetEnv("PROFILES_DIR", "./data/profiles"),
		PromptsDir:     envutil.GetEnv("PROMPTS_DIR", "./data/prompts"),

		ASRBaseURL: envutil.GetEnv("ASR_BASE_URL", "https://api.groq.com/openai/v1"),
		ASRAPIKey:  envutil.GetEnv("GROQ_API_KEY", ""),
		ASRModel:   envutil.GetEnv("ASR_MODEL", "whisper-large-v3"),

		AdminAPIKey:       envutil.GetEnv("PIPELINE_API_KEY", ""),
		JobRateLimitRPS:   envutil.GetEnvAsFloat("JOB_RATE_LIMIT_RPS", 0.5),
		JobRateLimitBurst: envutil.GetEnvAsInt("JOB_RATE_LIMIT_BURST", 5),

		DiarizeScriptPath: envutil.GetEnv("DIARIZE_SCRIPT_PATH", "./scripts/diarize.py"),
		HuggingFaceToken:  envutil.GetEnv("HUGGINGFACE_TOKEN", ""),

		RedisAddr: envutil.GetEnv("REDIS_ADDR", ""),
	}
	origins := envutil.GetEnv("CORS_ALLOW_ORIGINS", "*")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, o)
		}
	}
	log.Info("configuration loaded", "port", cfg.Port, "processing_root", cfg.ProcessingRoot, "output_root", cfg.OutputRoot)
	return cfg
}
