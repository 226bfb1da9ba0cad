package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv, AppPort string

	// DBDSN needs parseTime=true and multiStatements=true for the migrations.
	DBDSN       string
	RedisAddr   string
	RedisDB     int
	NATSURL     string
	NATSSubject string

	ControlToken string
	CORSOrigins  []string

	RunFile     string
	RunLockTTL  time.Duration
	JournalSize int

	OCREngine       string
	OCRLang         string
	OCRImgMaxW      int
	OCRImgQuality   int
	OCRImgGrayscale bool

	SpoolDir string
	DoneDir  string

	ProviderRPS   int
	ProviderBurst int

	MaxBodyLimit       int
	AllowedMaxFileSize int
	AllowedFileExt     []string
}

func Load() *Config {
	_ = godotenv.Load()

	c := &Config{
		AppEnv:             get("APP_ENV", "dev"),
		AppPort:            get("APP_PORT", "8080"),
		DBDSN:              must("DB_DSN"),
		RedisAddr:          get("REDIS_ADDR", "127.0.0.1:6379"),
		RedisDB:            atoi(get("REDIS_DB", "0")),
		NATSURL:            get("NATS_URL", ""),
		NATSSubject:        get("NATS_SUBJECT", "grading"),
		ControlToken:       must("CONTROL_TOKEN"),
		CORSOrigins:        split(get("CORS_ORIGINS", "http://localhost:5173")),
		RunFile:            get("RUN_FILE", "run.yaml"),
		RunLockTTL:         mustDuration(get("RUN_LOCK_TTL", "2h")),
		JournalSize:        GetEnvInt("JOURNAL_SIZE", 500),
		OCREngine:          strings.ToLower(get("OCR_ENGINE", "baidu")),
		OCRLang:            get("OCR_LANG", "chi_sim+eng"),
		OCRImgMaxW:         atoi(get("OCR_IMG_MAX_W", "1600")),
		OCRImgQuality:      atoi(get("OCR_IMG_QUALITY", "85")),
		OCRImgGrayscale:    parseBool(get("OCR_IMG_GRAYSCALE", "false")),
		SpoolDir:           get("SPOOL_DIR", "./storage/spool"),
		DoneDir:            get("SPOOL_DONE_DIR", "./storage/done"),
		ProviderRPS:        atoi(get("PROVIDER_RPS", "2")),
		ProviderBurst:      atoi(get("PROVIDER_BURST", "2")),
		MaxBodyLimit:       GetEnvInt("MAX_BODY_LIMIT", 10),
		AllowedMaxFileSize: GetEnvInt("ALLOWED_MAX_FILE_SIZE", 5),
		AllowedFileExt:     GetEnvList("ALLOWED_FILE_EXT", []string{".jpg", ".jpeg", ".png"}),
	}
	return c
}

func GetEnvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return d
}

func GetEnvList(k string, d []string) []string {
	if v := os.Getenv(k); v != "" {
		return strings.Split(v, ",")
	}
	return d
}

func get(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("missing env %s", k)
	}
	return v
}
func atoi(s string) int                   { i, _ := strconv.Atoi(s); return i }
func parseBool(s string) bool             { b, _ := strconv.ParseBool(s); return b }
func mustDuration(s string) time.Duration { d, _ := time.ParseDuration(s); return d }
func split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func GetEnv(k, d string) string {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	return v
}
