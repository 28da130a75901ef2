package flowstudio

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Mode    string
	ApiPort string
	Engine  struct {
		Workers        int
		PartialResults bool
		NodeTimeout    time.Duration
	}
	Google struct {
		ClientID     string
		ClientSecret string
		TokenURL     string
		GmailBaseURL string
	}
	LLM struct {
		OpenAIBaseURL    string
		GeminiBaseURL    string
		AnthropicBaseURL string
		OllamaHost       string
		MaxTokens        int
		RequestTimeout   time.Duration
	}
	QA struct {
		ChunkSize      int
		ChunkOverlap   int
		TopK           int
		EmbeddingModel string
		OpenAIKey      string
		AnswerProvider string
		AnswerModel    string
		AnswerAPIKey   string
		CacheTTL       time.Duration
	}
	MainDatabase struct {
		Host         string
		Port         string
		User         string
		Password     string
		DatabaseName string
		SSLMode      string
	}
	RedisConfig struct {
		Host     string
		Port     string
		Password string
		DB       int
	}
	Nats struct {
		URL      string
		TenantID string
	}
	SmtpConfig struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
		UseTLS   bool
	}
}

var config AppConfig

func InitConfig(envfile string) {
	err := godotenv.Load(envfile)
	if err != nil {
		log.Fatal(fmt.Sprintf("Error loading %s file: %s", envfile, err))
	}
	config = loadConfig()

	Logger = initLogger()
	if config.MainDatabase.Host != "" {
		DB = connectToPostgres(config.MainDatabase.Host, config.MainDatabase.User, config.MainDatabase.Password, config.MainDatabase.DatabaseName, config.MainDatabase.Port, config.MainDatabase.SSLMode)
	}
	if config.RedisConfig.Host != "" {
		Redis = connectToRedis(config.RedisConfig.Host, config.RedisConfig.Port, config.RedisConfig.Password, config.RedisConfig.DB)
	}
	if config.Nats.URL != "" {
		Nats = connectToNats(config.Nats.URL)
	}
}

func loadConfig() AppConfig {
	var cfg AppConfig
	cfg.Mode = getEnvOrPanic("RUN_MODE")
	cfg.ApiPort = getEnvOrPanic("API_PORT")

	cfg.Engine.Workers = getIntEnvOrDefault("ENGINE_WORKERS", 4)
	cfg.Engine.PartialResults = getBoolEnvOrDefault("ENGINE_PARTIAL_RESULTS", true)
	cfg.Engine.NodeTimeout = getDurationEnvOrDefault("ENGINE_NODE_TIMEOUT", 2*time.Minute)

	cfg.Google.ClientID = GetEnv("GOOGLE_CLIENT_ID", "")
	cfg.Google.ClientSecret = GetEnv("GOOGLE_CLIENT_SECRET", "")
	cfg.Google.TokenURL = GetEnv("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token")
	cfg.Google.GmailBaseURL = GetEnv("GMAIL_BASE_URL", "https://gmail.googleapis.com/gmail/v1")

	cfg.LLM.OpenAIBaseURL = GetEnv("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.LLM.GeminiBaseURL = GetEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta")
	cfg.LLM.AnthropicBaseURL = GetEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com")
	cfg.LLM.OllamaHost = GetEnv("OLLAMA_HOST", "http://localhost:11434")
	cfg.LLM.MaxTokens = getIntEnvOrDefault("LLM_MAX_TOKENS", 2000)
	cfg.LLM.RequestTimeout = getDurationEnvOrDefault("LLM_REQUEST_TIMEOUT", 120*time.Second)

	cfg.QA.ChunkSize = getIntEnvOrDefault("QA_CHUNK_SIZE", 200)
	cfg.QA.ChunkOverlap = getIntEnvOrDefault("QA_CHUNK_OVERLAP", 50)
	cfg.QA.TopK = getIntEnvOrDefault("QA_TOP_K", 5)
	cfg.QA.EmbeddingModel = GetEnv("QA_EMBEDDING_MODEL", "text-embedding-3-small")
	cfg.QA.OpenAIKey = GetEnv("OPENAI_API_KEY", "")
	cfg.QA.AnswerProvider = GetEnv("QA_ANSWER_PROVIDER", "Google")
	cfg.QA.AnswerModel = GetEnv("QA_ANSWER_MODEL", "gemini-2.5-flash-lite")
	cfg.QA.AnswerAPIKey = GetEnv("GEMINI_API_KEY", "")
	cfg.QA.CacheTTL = getDurationEnvOrDefault("QA_CACHE_TTL", 24*time.Hour)

	cfg.MainDatabase.Host = GetEnv("DB_HOSTNAME", "")
	cfg.MainDatabase.Port = GetEnv("DB_PORT", "5432")
	cfg.MainDatabase.User = GetEnv("DB_USERNAME", "")
	cfg.MainDatabase.Password = GetEnv("DB_PASSWORD", "")
	cfg.MainDatabase.DatabaseName = GetEnv("DB_NAME", "")
	cfg.MainDatabase.SSLMode = GetEnv("DB_SSL_MODE", "disable")

	cfg.RedisConfig.Host = GetEnv("REDIS_HOST", "")
	cfg.RedisConfig.Port = GetEnv("REDIS_PORT", "6379")
	cfg.RedisConfig.Password = GetEnv("REDIS_PASSWORD", "")
	cfg.RedisConfig.DB = getIntEnvOrDefault("REDIS_DB", 0)

	cfg.Nats.URL = GetEnv("NATS_URL", "")
	cfg.Nats.TenantID = GetEnv("TENANT_ID", "default")

	cfg.SmtpConfig.Host = GetEnv("SMTP_HOST", "")
	cfg.SmtpConfig.Port = getIntEnvOrDefault("SMTP_PORT", 587)
	cfg.SmtpConfig.Username = GetEnv("SMTP_USERNAME", "")
	cfg.SmtpConfig.Password = GetEnv("SMTP_PASSWORD", "")
	cfg.SmtpConfig.From = GetEnv("SMTP_FROM", "")
	cfg.SmtpConfig.UseTLS = getBoolEnvOrDefault("SMTP_USE_TLS", true)
	return cfg
}

func GetConfig() AppConfig {
	return config
}

func getEnvOrPanic(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("%s must be set", key)
	}
	return value
}

func GetEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func connectToPostgres(host string, username string, password string, dbname string, port string, ssl string) *gorm.DB {
	var err error
	var db *gorm.DB
	var conn *sql.DB

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		host, username, password, dbname, port, ssl)
	if db, err = gorm.Open(postgres.Open(dsn),
		&gorm.Config{
			Logger: logger.New(
				log.New(os.Stdout, "\r\n", log.LstdFlags),
				logger.Config{
					SlowThreshold: 0,
					LogLevel:      logger.Error,
				},
			),
			TranslateError: true,
			NowFunc: func() time.Time {
				return time.Now()
			},
			NamingStrategy: schema.NamingStrategy{
				SingularTable: true,
			}}); err != nil {
		panic(err)
	}
	if conn, err = db.DB(); err != nil {
		panic(err)
	}
	conn.SetMaxIdleConns(10)
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxLifetime(time.Hour)
	return db
}

func initLogger() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
		NoColor:    false,
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("  %s  ", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s=", i)
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprintf("%s", i)
		},
	}

	return zerolog.New(output).With().Timestamp().Caller().Logger()
}

func connectToRedis(host string, port string, password string, db int) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	return client
}

func connectToNats(url string) *nats.Conn {
	nc, err := nats.Connect(url, nats.Name("flowstudio-api"))
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to NATS: %v", err))
	}
	return nc
}
