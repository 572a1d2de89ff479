package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

type Config struct {
	Port                int
	SessionKey          string // empty means random keys per process
	DatabasePath        string
	ImageDirectory      string
	ModelDirectory      string
	ExportModel         string // Model whose class names go into classes.txt
	LogDirectory        string
	LogLevel            string
	ImagesPerPage       int
	MaxUploadSize       int64 // bytes per upload request
	ProgressBuffer      int
	ConfidenceThreshold float64
	NMSThreshold        float64
	ModelInputSize      int
	RedisAddr           string // empty disables the stats cache
	RedisPassword       string
	RedisDB             int
	StatsCacheTTL       time.Duration
	MFAIssuer           string
	AdminEmails         []string // accounts allowed to read and clear server logs
}

// Load reads .env, an optional YAML file named by CONFIG_FILE and the environment.
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		// A missing or broken file leaves defaults and environment in place.
		_ = v.ReadInConfig()
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 5000)
	v.SetDefault("SESSION_KEY", "")
	v.SetDefault("DB_PATH", filepath.Join(".", "data", "database.db"))
	v.SetDefault("IMAGE_DIR", filepath.Join(".", "data", "images"))
	v.SetDefault("MODEL_DIR", filepath.Join(".", "data", "models"))
	v.SetDefault("EXPORT_MODEL", "best.onnx")
	v.SetDefault("LOG_DIR", filepath.Join(".", "logs"))
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("IMAGES_PER_PAGE", 10)
	v.SetDefault("MAX_UPLOAD_SIZE", 256<<20)
	v.SetDefault("PROGRESS_BUFFER", 64)
	v.SetDefault("CONFIDENCE_THRESHOLD", 0.25)
	v.SetDefault("NMS_THRESHOLD", 0.45)
	v.SetDefault("MODEL_INPUT_SIZE", 640)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("STATS_CACHE_TTL", 10*time.Minute)
	v.SetDefault("MFA_ISSUER", "WBC_Scan")
	v.SetDefault("ADMIN_EMAILS", "")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Port:                v.GetInt("PORT"),
		SessionKey:          v.GetString("SESSION_KEY"),
		DatabasePath:        v.GetString("DB_PATH"),
		ImageDirectory:      v.GetString("IMAGE_DIR"),
		ModelDirectory:      v.GetString("MODEL_DIR"),
		ExportModel:         v.GetString("EXPORT_MODEL"),
		LogDirectory:        v.GetString("LOG_DIR"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		ImagesPerPage:       positiveInt(v.GetInt("IMAGES_PER_PAGE"), 10),
		MaxUploadSize:       v.GetInt64("MAX_UPLOAD_SIZE"),
		ProgressBuffer:      positiveInt(v.GetInt("PROGRESS_BUFFER"), 64),
		ConfidenceThreshold: v.GetFloat64("CONFIDENCE_THRESHOLD"),
		NMSThreshold:        v.GetFloat64("NMS_THRESHOLD"),
		ModelInputSize:      positiveInt(v.GetInt("MODEL_INPUT_SIZE"), 640),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		RedisPassword:       v.GetString("REDIS_PASSWORD"),
		RedisDB:             v.GetInt("REDIS_DB"),
		StatsCacheTTL:       v.GetDuration("STATS_CACHE_TTL"),
		MFAIssuer:           v.GetString("MFA_ISSUER"),
		AdminEmails:         emailList(v.GetString("ADMIN_EMAILS")),
	}
}

// emailList splits a comma separated list into trimmed, lower-cased addresses.
func emailList(raw string) []string {
	emails := lo.Map(strings.Split(raw, ","), func(e string, _ int) string {
		return strings.ToLower(strings.TrimSpace(e))
	})
	return lo.Compact(emails)
}

func positiveInt(value, defaultValue int) int {
	if value > 0 {
		return value
	}
	return defaultValue
}
