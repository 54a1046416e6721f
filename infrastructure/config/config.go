package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string

	// AWS configuration
	AWSRegion        string
	TableName        string
	GSI1IndexName    string
	DynamoDBEndpoint string // DynamoDB Local; empty uses the regional endpoint

	// Storage behaviour
	StorageTimeout          time.Duration
	SequenceRetryLimit      int
	PageSize                int
	BreakerFailureThreshold int

	// Lambda configuration
	IsLambda           bool
	LambdaFunctionName string

	// Logging
	LogLevel string

	// Authentication
	JWTSecret          string
	JWTIssuer          string
	RateLimitPerMinute int

	// Feature flags
	EnableMetrics    bool
	MetricsNamespace string
	EnableTracing    bool
	EnableCORS       bool
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		AWSRegion:        getEnv("AWS_REGION", "sa-east-1"),
		TableName:        getEnv("TABLE_NAME", "preanesth"),
		GSI1IndexName:    getEnv("GSI1_INDEX_NAME", "GSI1"),
		DynamoDBEndpoint: getEnv("DYNAMODB_ENDPOINT", ""),

		StorageTimeout:          time.Duration(getEnvInt("STORAGE_TIMEOUT_MS", 2000)) * time.Millisecond,
		SequenceRetryLimit:      getEnvInt("SEQUENCE_RETRY_LIMIT", 5),
		PageSize:                getEnvInt("PAGE_SIZE", 25),
		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),

		IsLambda:           getEnvBool("IS_LAMBDA", false) || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "",
		LambdaFunctionName: getEnv("AWS_LAMBDA_FUNCTION_NAME", ""),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTIssuer:          getEnv("JWT_ISSUER", "preanesth-app"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		LogLevel:         getEnv("LOG_LEVEL", "info"),
		EnableMetrics:    getEnvBool("ENABLE_METRICS", false),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "PreAnesth"),
		EnableTracing:    getEnvBool("ENABLE_TRACING", false),
		EnableCORS:       getEnvBool("ENABLE_CORS", true),
		AllowedOrigins:   getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.TableName == "" {
		return fmt.Errorf("TABLE_NAME is required")
	}
	if c.StorageTimeout <= 0 {
		return fmt.Errorf("STORAGE_TIMEOUT_MS must be positive")
	}
	if c.SequenceRetryLimit < 1 {
		return fmt.Errorf("SEQUENCE_RETRY_LIMIT must be at least 1")
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return fmt.Errorf("PAGE_SIZE must be between 1 and 100")
	}
	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1")
	}
	if c.RateLimitPerMinute < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	if c.IsProduction() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.DynamoDBEndpoint != "" {
			return fmt.Errorf("DYNAMODB_ENDPOINT must not be set in production")
		}
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
