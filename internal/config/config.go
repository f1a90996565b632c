package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration
type Config struct {
	// ストレージ設定 (mysql | sqlite | pebble)
	DBDriver string
	DBPath   string

	// MariaDB接続設定
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// サーバー設定
	ServerPort string
	Env        string
	LogLevel   string
	UploadDir  string

	// CORS設定
	AllowedOrigins []string

	// レート制限 (POST/PUT/DELETE のみ)
	RateLimitRPS   float64
	RateLimitBurst int

	// talk bot
	TalkAPIKey string
	TalkAPIURL string

	// keyword bot
	KeywordAPIAppID string
	KeywordAPIURL   string
}

// IsDevelopment reports whether the server runs with ENV=development
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Load loads configuration from environment variables
func Load() Config {
	dbDriver := os.Getenv("DB_DRIVER")
	if dbDriver == "" {
		dbDriver = "mysql"
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "tsubuyaki.db"
	}

	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "3306"
	}

	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	uploadDir := os.Getenv("UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = "uploads"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:8080,http://127.0.0.1:8080"
	}

	rps := 20.0
	if v, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64); err == nil {
		rps = v
	}

	burst := 40
	if v, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST")); err == nil {
		burst = v
	}

	talkAPIURL := os.Getenv("TALK_API_URL")
	if talkAPIURL == "" {
		talkAPIURL = "https://api.a3rt.recruit-tech.co.jp/talk/v1/smalltalk"
	}

	keywordAPIURL := os.Getenv("KEYWORD_API_URL")
	if keywordAPIURL == "" {
		keywordAPIURL = "https://jlp.yahooapis.jp/KeyphraseService/V1/extract"
	}

	cfg := Config{
		DBDriver:       strings.ToLower(dbDriver),
		DBPath:         dbPath,
		DBHost:         dbHost,
		DBPort:         dbPort,
		DBUser:         dbUser,
		DBPassword:     dbPassword,
		DBName:         dbName,
		ServerPort:     serverPort,
		Env:            env,
		LogLevel:       logLevel,
		UploadDir:      uploadDir,
		AllowedOrigins: strings.Split(allowedOrigins, ","),
		RateLimitRPS:   rps,
		RateLimitBurst: burst,
		TalkAPIKey:     os.Getenv("TALK_API_KEY"),
		TalkAPIURL:     talkAPIURL,

		KeywordAPIAppID: os.Getenv("KEYWORD_API_APP_ID"),
		KeywordAPIURL:   keywordAPIURL,
	}

	for i := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(cfg.AllowedOrigins[i])
	}

	return cfg
}
