package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	awspkg "catalog-import-service/pkg/aws"
	"catalog-import-service/services"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Config holds every setting of the service, read from the environment.
type Config struct {
	Port      string `validate:"required,numeric"`
	Env       string `validate:"oneof=development production test"`
	JWTSecret string `validate:"required"`

	CatalogStore       string `validate:"oneof=postgrest postgres sqlite dynamodb mongo"`
	SupabaseURL        string `validate:"required_if=CatalogStore postgrest"`
	SupabaseServiceKey string `validate:"required_if=CatalogStore postgrest"`
	DatabaseURL        string `validate:"required_if=CatalogStore postgres"`
	SQLitePath         string `validate:"required_if=CatalogStore sqlite"`
	MongoURL           string `validate:"required_if=CatalogStore mongo"`
	MongoDB            string `validate:"required_if=CatalogStore mongo"`
	DDBProductsTable   string
	DDBVariantsTable   string

	RedisURL       string `validate:"required_if=ProgressStore redis"`
	ProgressStore  string `validate:"oneof=redis file"`
	ProgressDir    string `validate:"required_if=ProgressStore file"`
	UploadStore    string `validate:"oneof=local s3"`
	BulkStorageDir string
	S3Bucket       string `validate:"required_if=UploadStore s3"`
	S3Prefix       string

	BatchSize     int           `validate:"gte=1,lte=1000"`
	ThrottleDelay time.Duration `validate:"gte=0"`
	CallTimeout   time.Duration `validate:"gte=0"`
	ResumeWindow  time.Duration `validate:"gt=0"`

	EventsSink   string   `validate:"oneof=none kafka sns"`
	KafkaBrokers []string `validate:"required_if=EventsSink kafka"`
	KafkaTopic   string   `validate:"required_if=EventsSink kafka"`
	SNSTopicARN  string   `validate:"required_if=EventsSink sns"`

	CORSOrigins         []string
	UploadRatePerMinute int `validate:"gte=1"`
	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string

	AWS        awspkg.Settings
	UseSecrets bool
	SecretName string
}

// LoadConfig reads the environment, fills defaults and validates the result.
// With AWS_USE_SECRETS=true, credentials are read from the SecretName JSON
// secret, falling back to the environment on failure.
func LoadConfig(ctx context.Context) (*Config, error) {
	cfg := &Config{
		Port:      getEnv("PORT", "8085"),
		Env:       getEnv("ENV", "development"),
		JWTSecret: os.Getenv("JWT_SECRET"),

		CatalogStore:       strings.ToLower(getEnv("CATALOG_STORE", "postgrest")),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/catalog.db"),
		MongoURL:           os.Getenv("MONGO_URL"),
		MongoDB:            getEnv("MONGO_DB", "catalog"),
		DDBProductsTable:   getEnv("DDB_TABLE_PRODUCTS", "Products"),
		DDBVariantsTable:   getEnv("DDB_TABLE_VARIANTS", "ProductVariants"),

		RedisURL:       os.Getenv("REDIS_URL"),
		ProgressDir:    getEnv("PROGRESS_DIR", "./data/import_progress"),
		UploadStore:    strings.ToLower(getEnv("UPLOAD_STORE", "local")),
		BulkStorageDir: getEnv("BULK_STORAGE_DIR", "./data/bulk_imports"),
		S3Bucket:       os.Getenv("AWS_S3_BUCKET"),
		S3Prefix:       getEnv("AWS_S3_PREFIX", "catalog-imports/"),

		BatchSize:     getEnvInt("IMPORT_BATCH_SIZE", services.DefaultBatchSize),
		ThrottleDelay: time.Duration(getEnvInt("IMPORT_THROTTLE_MS", int(services.DefaultThrottleDelay/time.Millisecond))) * time.Millisecond,
		CallTimeout:   time.Duration(getEnvInt("IMPORT_CALL_TIMEOUT_MS", 0)) * time.Millisecond,
		ResumeWindow:  getEnvDuration("IMPORT_RESUME_WINDOW", services.DefaultResumeWindow),

		EventsSink:   strings.ToLower(getEnv("EVENTS_SINK", "none")),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "catalog-import-events"),
		SNSTopicARN:  os.Getenv("SNS_TOPIC_ARN"),

		CORSOrigins:         splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		UploadRatePerMinute: getEnvInt("UPLOAD_RATE_PER_MINUTE", 30),
		CloudWatchEnabled:   getEnvBool("CLOUDWATCH_ENABLED", false),
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "CatalogImport"),
		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", "/catalog-import/services"),

		AWS: awspkg.Settings{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			Endpoint:        os.Getenv("AWS_ENDPOINT"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		},
		UseSecrets: getEnvBool("AWS_USE_SECRETS", false),
		SecretName: getEnv("AWS_SECRET_NAME", "catalog-import/secrets"),
	}

	defaultProgress := "file"
	if cfg.RedisURL != "" {
		defaultProgress = "redis"
	}
	cfg.ProgressStore = strings.ToLower(getEnv("PROGRESS_STORE", defaultProgress))

	if cfg.UseSecrets {
		cfg.applySecrets(ctx)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applySecrets(ctx context.Context) {
	awsCfg, err := awspkg.LoadAWSConfig(ctx, c.AWS)
	if err != nil {
		zap.L().Warn("secrets manager unavailable, using environment", zap.Error(err))
		return
	}
	sm := awspkg.NewSecretsClient(awsCfg)
	for field, dst := range map[string]*string{
		"JWT_SECRET":           &c.JWTSecret,
		"SUPABASE_SERVICE_KEY": &c.SupabaseServiceKey,
		"DATABASE_URL":         &c.DatabaseURL,
		"MONGO_URL":            &c.MongoURL,
	} {
		v, err := sm.GetSecretField(ctx, c.SecretName, field)
		if err != nil {
			zap.L().Debug("secret field not loaded", zap.String("field", field), zap.Error(err))
			continue
		}
		if v != "" {
			*dst = v
		}
	}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), "/")); p != "" {
			out = append(out, p)
		}
	}
	return out
}
