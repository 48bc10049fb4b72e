package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Keyword      KeywordStoreConfig
	Vector       VectorStoreConfig
	Embedding    EmbeddingConfig
	Oracle       OracleConfig
	Router       RouterConfig
	Kafka        KafkaConfig
	LogProcessor LogProcessorConfig
	FileState    FileStateConfig
}

type ServerConfig struct {
	Port string
}

type KeywordStoreConfig struct {
	DBPath string
}

type VectorStoreConfig struct {
	DBPath    string
	BatchSize int
}

type EmbeddingConfig struct {
	BaseURL string
	Model   string
}

type OracleConfig struct {
	APIKey  string
	ModelID string
}

type RouterConfig struct {
	MaxSteps int
}

type KafkaConfig struct {
	Brokers       []string
	LogTopic      string
	ConsumerGroup string
}

type LogProcessorConfig struct {
	LogDirectory  string // Root directory watched for *.log files
	Schedule      string
	BatchSize     int
	MaxBatchWait  time.Duration
	ReferenceYear int
}

type FileStateConfig struct {
	FilePath string
}

func NewConfig() (*Config, error) {
	// Configure Viper to read .env file
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	// Enable automatic environment variable loading
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("KEYWORD_DB_PATH", "./data/logs.db")
	viper.SetDefault("VECTOR_DB_PATH", "./data/vectors.db")
	viper.SetDefault("VECTOR_BATCH_SIZE", 200)
	viper.SetDefault("EMBEDDING_BASE_URL", "http://localhost:11434")
	viper.SetDefault("EMBEDDING_MODEL", "nomic-embed-text")
	viper.SetDefault("ORACLE_MODEL_ID", "gemini-1.5-flash-latest")
	viper.SetDefault("ROUTER_MAX_STEPS", 10)
	viper.SetDefault("KAFKA_BROKERS", "localhost:9092")
	viper.SetDefault("KAFKA_LOG_TOPIC", "log_entries")
	viper.SetDefault("KAFKA_CONSUMER_GROUP", "log_processor_group")
	viper.SetDefault("LOG_PROCESSOR_DIRECTORY", "./logs")
	viper.SetDefault("LOG_PROCESSOR_SCHEDULE", "*/300 * * * * *") // Every 300 seconds
	viper.SetDefault("LOG_PROCESSOR_BATCH_SIZE", 100)
	viper.SetDefault("LOG_PROCESSOR_MAX_BATCH_WAIT", "5s")
	viper.SetDefault("LOG_PROCESSOR_REFERENCE_YEAR", 2025)
	viper.SetDefault("FILE_STATE_PATH", "./data/log_state.json")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		log.Warn().Err(err).Msg("Error reading config file")
	}

	var config Config
	config.Server.Port = viper.GetString("SERVER_PORT")

	// --- Stores ---
	config.Keyword.DBPath = viper.GetString("KEYWORD_DB_PATH")
	config.Vector.DBPath = viper.GetString("VECTOR_DB_PATH")
	config.Vector.BatchSize = viper.GetInt("VECTOR_BATCH_SIZE")

	// --- Embedding ---
	config.Embedding.BaseURL = viper.GetString("EMBEDDING_BASE_URL")
	config.Embedding.Model = viper.GetString("EMBEDDING_MODEL")

	// --- Oracle ---
	config.Oracle.APIKey = viper.GetString("ORACLE_API_KEY")
	config.Oracle.ModelID = viper.GetString("ORACLE_MODEL_ID")

	// --- Router ---
	config.Router.MaxSteps = viper.GetInt("ROUTER_MAX_STEPS")

	// --- Kafka ---
	kafkaBrokers := viper.GetString("KAFKA_BROKERS")
	config.Kafka.Brokers = strings.Split(kafkaBrokers, ",")
	config.Kafka.LogTopic = viper.GetString("KAFKA_LOG_TOPIC")
	config.Kafka.ConsumerGroup = viper.GetString("KAFKA_CONSUMER_GROUP")

	// --- Log Processor ---
	config.LogProcessor.LogDirectory = viper.GetString("LOG_PROCESSOR_DIRECTORY")
	config.LogProcessor.Schedule = viper.GetString("LOG_PROCESSOR_SCHEDULE")
	config.LogProcessor.BatchSize = viper.GetInt("LOG_PROCESSOR_BATCH_SIZE")
	config.LogProcessor.MaxBatchWait = viper.GetDuration("LOG_PROCESSOR_MAX_BATCH_WAIT")
	config.LogProcessor.ReferenceYear = viper.GetInt("LOG_PROCESSOR_REFERENCE_YEAR")

	// --- File State ---
	config.FileState.FilePath = viper.GetString("FILE_STATE_PATH")

	log.Info().Str("port", config.Server.Port).Str("keyword_db", config.Keyword.DBPath).Str("vector_db", config.Vector.DBPath).Msg("Config loaded")
	return &config, nil
}
