package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Identity authority (Keycloak-compatible admin API)
	AuthorityURL            string
	AuthorityRealm          string
	AuthorityClientID       string
	AuthorityClientSecret   string
	AuthorityTimeoutSeconds string
	AuthorityMaxRetries     string
	AuthorityBreakerTrips   string
	AuthorityBreakerResets  string

	// Kafka
	KafkaBrokers          string
	KafkaInvitationsTopic string
	KafkaJoinRequestTopic string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       string

	// Platform Admin (seeding)
	PlatformAdminEmail    string
	PlatformAdminUsername string
	PlatformAdminAuthID   string

	// Invitations
	InvitationExpiryDays string
}

var cfg *Config

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	envPaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("✅ Environment loaded from: %s", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	cfg = &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "planify"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// Identity authority
		AuthorityURL:            getEnv("AUTHORITY_URL", "http://localhost:9080"),
		AuthorityRealm:          getEnv("AUTHORITY_REALM", "planify"),
		AuthorityClientID:       getEnv("AUTHORITY_CLIENT_ID", "admin-cli"),
		AuthorityClientSecret:   getEnv("AUTHORITY_CLIENT_SECRET", ""),
		AuthorityTimeoutSeconds: getEnv("AUTHORITY_TIMEOUT_SECONDS", "5"),
		AuthorityMaxRetries:     getEnv("AUTHORITY_MAX_RETRIES", "3"),
		AuthorityBreakerTrips:   getEnv("AUTHORITY_BREAKER_FAILURES", "5"),
		AuthorityBreakerResets:  getEnv("AUTHORITY_BREAKER_RESET_SECONDS", "30"),

		// Kafka
		KafkaBrokers:          getEnv("KAFKA_BROKERS", "localhost:9092"),
		KafkaInvitationsTopic: getEnv("KAFKA_INVITATIONS_TOPIC", "planify.invitations"),
		KafkaJoinRequestTopic: getEnv("KAFKA_JOIN_REQUESTS_TOPIC", "planify.join-requests"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),

		// Platform Admin
		PlatformAdminEmail:    getEnv("PLATFORM_ADMIN_EMAIL", "admin@planify.local"),
		PlatformAdminUsername: getEnv("PLATFORM_ADMIN_USERNAME", "platform_admin"),
		PlatformAdminAuthID:   getEnv("PLATFORM_ADMIN_AUTH_ID", ""),

		// Invitations
		InvitationExpiryDays: getEnv("INVITATION_EXPIRY_DAYS", "7"),
	}

	log.Println("✅ Configuration loaded successfully")
}

// GetConfig returns the current configuration
func GetConfig() *Config {
	if cfg == nil {
		LoadConfig()
	}
	return cfg
}

// GetKafkaBrokers returns the broker list parsed from the comma-separated setting
func (c *Config) GetKafkaBrokers() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

// GetAuthorityTimeoutSeconds returns the per-attempt authority timeout as integer
func (c *Config) GetAuthorityTimeoutSeconds() int {
	return atoiOrDefault(c.AuthorityTimeoutSeconds, 5)
}

// GetAuthorityMaxRetries returns the authority retry cap as integer
func (c *Config) GetAuthorityMaxRetries() int {
	return atoiOrDefault(c.AuthorityMaxRetries, 3)
}

// GetAuthorityBreakerFailures returns the consecutive failures that open the breaker
func (c *Config) GetAuthorityBreakerFailures() int {
	return atoiOrDefault(c.AuthorityBreakerTrips, 5)
}

// GetAuthorityBreakerResetSeconds returns how long the breaker stays open before a probe
func (c *Config) GetAuthorityBreakerResetSeconds() int {
	return atoiOrDefault(c.AuthorityBreakerResets, 30)
}

// GetInvitationExpiryDays returns the invitation validity window in days
func (c *Config) GetInvitationExpiryDays() int {
	return atoiOrDefault(c.InvitationExpiryDays, 7)
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func atoiOrDefault(value string, defaultValue int) int {
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}
