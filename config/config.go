package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Extractor-Service (PDF -> Citation-Contexts), Black-Box via HTTP
	ExtractorBaseURL string        `envconfig:"EXTRACTOR_BASE_URL" default:"http://localhost:8070"`
	ExtractorTimeout time.Duration `envconfig:"EXTRACTOR_TIMEOUT" default:"120s"`
	EnabledExtractor string        `envconfig:"ENABLED_EXTRACTOR" default:"service"`

	// Classifier-Service (LLM-Beziehungsklassifikation), Black-Box via HTTP
	ClassifierBaseURL string        `envconfig:"CLASSIFIER_BASE_URL" default:"https://api.openai.com/v1"`
	ClassifierAPIKey  string        `envconfig:"CLASSIFIER_API_KEY"`
	ClassifierModel   string        `envconfig:"CLASSIFIER_MODEL" default:"gpt-4o-mini"`
	ClassifierTimeout time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"60s"`

	// Pipeline-Limits: Fan-Out pro Analyse-Batch und Rate-Limit-Pause
	// zwischen Klassifikations-Batches (Teil des Pipeline-Vertrags).
	MaxBatchPapers     int           `envconfig:"MAX_BATCH_PAPERS" default:"15"`
	ExtractConcurrency int           `envconfig:"EXTRACT_CONCURRENCY" default:"5"`
	ClassifyBatchSize  int           `envconfig:"CLASSIFY_BATCH_SIZE" default:"5"`
	ClassifyBatchDelay time.Duration `envconfig:"CLASSIFY_BATCH_DELAY" default:"1s"`

	// Extraction-Cache
	CacheTTL     time.Duration `envconfig:"CACHE_TTL" default:"30m"`
	CacheSweep   time.Duration `envconfig:"CACHE_SWEEP_INTERVAL" default:"5m"`
	CronSchedule string        `envconfig:"CRON_SCHEDULE" default:"*/30 * * * *"`

	// Analyses mit vollständigem Graph statt Per-Paper-Subgraph speichern
	// (Legacy-Verhalten, der Merge-Reader toleriert beide Formen).
	FullGraphAnalyses bool `envconfig:"FULL_GRAPH_ANALYSES" default:"false"`

	// S3 für Graph-Exporte und Backups
	StratoS3Key    string `envconfig:"STRATO_S3_KEY" required:"true"`
	StratoS3Secret string `envconfig:"STRATO_S3_SECRET" required:"true"`
	StratoS3URL    string `envconfig:"STRATO_S3_URL" required:"true"`
	StratoS3Region string `envconfig:"STRATO_S3_REGION" required:"true"`
	StratoS3Bucket string `envconfig:"STRATO_S3_BUCKET" required:"true"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
