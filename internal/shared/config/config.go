package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	KurrentDB KurrentDBConfig
	Auth      AuthConfig
	Workflow  WorkflowConfig
	Directory DirectoryConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// MaxConns caps the pool; permission evaluation opens no
	// transactions, so the pool stays small relative to traffic
	MaxConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC/HTTP port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
}

type AuthConfig struct {
	JWTSecret string
}

// WorkflowConfig holds the permission evaluator's role and stage anchors.
type WorkflowConfig struct {
	// SuperAdminRole short-circuits every permission check
	SuperAdminRole string
	// CounselorStageKey is the stage where assignment exclusivity applies
	CounselorStageKey string
	// CounselorRoles are the roles subject to the assignment gate
	CounselorRoles []string
}

// DirectoryConfig holds configuration for the legacy ITS membership
// directory adapter (SQL Server).
type DirectoryConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MemberTable  string
	PollInterval time.Duration
}

func Load() (*Config, error) {
	// Best effort; env vars win over .env values
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "caseflow"),
			Password: getEnv("DB_PASSWORD", "caseflow"),
			Database: getEnv("DB_NAME", "caseflow"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 25)),
		},
		KurrentDB: KurrentDBConfig{
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		Workflow: WorkflowConfig{
			SuperAdminRole:    getEnv("WORKFLOW_SUPER_ADMIN_ROLE", "super_admin"),
			CounselorStageKey: getEnv("WORKFLOW_COUNSELOR_STAGE_KEY", "counselor"),
			CounselorRoles:    getEnvSlice("WORKFLOW_COUNSELOR_ROLES", []string{"counselor"}),
		},
		Directory: DirectoryConfig{
			Enabled:      getEnvBool("DIRECTORY_ENABLED", false),
			Host:         getEnv("DIRECTORY_DB_HOST", "localhost"),
			Port:         getEnvInt("DIRECTORY_DB_PORT", 1433),
			User:         getEnv("DIRECTORY_DB_USER", "sa"),
			Password:     getEnv("DIRECTORY_DB_PASSWORD", ""),
			Database:     getEnv("DIRECTORY_DB_NAME", "its"),
			MemberTable:  getEnv("DIRECTORY_MEMBER_TABLE", "dbo.Members"),
			PollInterval: getEnvDuration("DIRECTORY_POLL_INTERVAL", 15*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
