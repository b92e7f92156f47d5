package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/netscope/scancollab/internal/envutil"
	"github.com/netscope/scancollab/internal/slogging"
	"gopkg.in/yaml.v3"
)

// Store drivers understood by the scan document store factory
const (
	StoreDriverMemory    = "memory"
	StoreDriverPostgres  = "postgres"
	StoreDriverSQLite    = "sqlite"
	StoreDriverMySQL     = "mysql"
	StoreDriverSQLServer = "sqlserver"
	StoreDriverMongo     = "mongodb"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Collaboration CollaborationConfig `yaml:"collaboration"`
	Store         StoreConfig         `yaml:"store"`
	Redis         RedisConfig         `yaml:"redis"`
	Logging       LoggingConfig       `yaml:"logging"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `yaml:"port" env:"SERVER_PORT"`
	Interface       string        `yaml:"interface" env:"SERVER_INTERFACE"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	TLSEnabled      bool          `yaml:"tls_enabled" env:"SERVER_TLS_ENABLED"`
	TLSCertFile     string        `yaml:"tls_cert_file" env:"SERVER_TLS_CERT_FILE"`
	TLSKeyFile      string        `yaml:"tls_key_file" env:"SERVER_TLS_KEY_FILE"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS"`
	HealthTimeout   time.Duration `yaml:"health_timeout" env:"SERVER_HEALTH_TIMEOUT"`

	// HandshakeRateLimit caps upgrades per client IP per HandshakeRateWindow.
	// It is enforced through Redis and ignored when Redis is disabled; 0 turns it off.
	HandshakeRateLimit  int           `yaml:"handshake_rate_limit" env:"SERVER_HANDSHAKE_RATE_LIMIT"`
	HandshakeRateWindow time.Duration `yaml:"handshake_rate_window" env:"SERVER_HANDSHAKE_RATE_WINDOW"`
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWT JWTConfig `yaml:"jwt"`
	// RevocationEnabled consults the Redis token blacklist on every handshake
	RevocationEnabled bool `yaml:"revocation_enabled" env:"AUTH_REVOCATION_ENABLED"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string `yaml:"secret" env:"JWT_SECRET"`
	SigningMethod string `yaml:"signing_method" env:"JWT_SIGNING_METHOD"`
	Issuer        string `yaml:"issuer" env:"JWT_ISSUER"`
	Audience      string `yaml:"audience" env:"JWT_AUDIENCE"`
	// LeewaySeconds tolerates clock skew on exp and nbf
	LeewaySeconds int `yaml:"leeway_seconds" env:"JWT_LEEWAY_SECONDS"`
}

// CollaborationConfig holds room, lock and connection timing
type CollaborationConfig struct {
	LockLease        time.Duration `yaml:"lock_lease" env:"COLLAB_LOCK_LEASE"`
	ReapInterval     time.Duration `yaml:"reap_interval" env:"COLLAB_REAP_INTERVAL"`
	PingInterval     time.Duration `yaml:"ping_interval" env:"COLLAB_PING_INTERVAL"`
	MaxMissedPings   int           `yaml:"max_missed_pings" env:"COLLAB_MAX_MISSED_PINGS"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"COLLAB_HANDSHAKE_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"COLLAB_WRITE_TIMEOUT"`
	StoreTimeout     time.Duration `yaml:"store_timeout" env:"COLLAB_STORE_TIMEOUT"`
	TypingTimeout    time.Duration `yaml:"typing_timeout" env:"COLLAB_TYPING_TIMEOUT"`
	SendBufferSize   int           `yaml:"send_buffer_size" env:"COLLAB_SEND_BUFFER_SIZE"`
	MaxSendFailures  int           `yaml:"max_send_failures" env:"COLLAB_MAX_SEND_FAILURES"`
	MaxMessageBytes  int64         `yaml:"max_message_bytes" env:"COLLAB_MAX_MESSAGE_BYTES"`
	// EphemeralRate bounds typing and cursor events per session per second
	EphemeralRate float64 `yaml:"ephemeral_rate" env:"COLLAB_EPHEMERAL_RATE"`
}

// StoreConfig selects and configures the scan document store
type StoreConfig struct {
	Driver          string        `yaml:"driver" env:"STORE_DRIVER"`
	DSN             string        `yaml:"dsn" env:"STORE_DSN"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"STORE_AUTO_MIGRATE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"STORE_MAX_OPEN_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"STORE_CONN_MAX_LIFETIME"`
	MongoURI        string        `yaml:"mongo_uri" env:"STORE_MONGO_URI"`
	MongoDatabase   string        `yaml:"mongo_database" env:"STORE_MONGO_DATABASE"`
	MongoCollection string        `yaml:"mongo_collection" env:"STORE_MONGO_COLLECTION"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     string `yaml:"port" env:"REDIS_PORT"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level" env:"LOGGING_LEVEL"`
	IsDev            bool   `yaml:"is_dev" env:"LOGGING_IS_DEV"`
	LogDir           string `yaml:"log_dir" env:"LOGGING_LOG_DIR"`
	MaxAgeDays       int    `yaml:"max_age_days" env:"LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB        int    `yaml:"max_size_mb" env:"LOGGING_MAX_SIZE_MB"`
	MaxBackups       int    `yaml:"max_backups" env:"LOGGING_MAX_BACKUPS"`
	AlsoLogToConsole bool   `yaml:"also_log_to_console" env:"LOGGING_ALSO_LOG_TO_CONSOLE"`
	LogWebSocketMsg  bool   `yaml:"log_websocket_messages" env:"LOGGING_LOG_WEBSOCKET_MESSAGES"`
	RedactAuthTokens bool   `yaml:"redact_auth_tokens" env:"LOGGING_REDACT_AUTH_TOKENS"`
}

// TelemetryConfig holds metrics and tracing configuration
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" env:"TELEMETRY_ENABLED"`
	ServiceName string `yaml:"service_name" env:"TELEMETRY_SERVICE_NAME"`
	Prometheus  bool   `yaml:"prometheus" env:"TELEMETRY_PROMETHEUS"`
	TraceStdout bool   `yaml:"trace_stdout" env:"TELEMETRY_TRACE_STDOUT"`
	// OTLPEndpoint is a host:port gRPC collector; empty disables push export
	OTLPEndpoint   string        `yaml:"otlp_endpoint" env:"TELEMETRY_OTLP_ENDPOINT"`
	OTLPInsecure   bool          `yaml:"otlp_insecure" env:"TELEMETRY_OTLP_INSECURE"`
	ExportInterval time.Duration `yaml:"export_interval" env:"TELEMETRY_EXPORT_INTERVAL"`
	SampleRate     float64       `yaml:"sample_rate" env:"TELEMETRY_SAMPLE_RATE"`
}

// Load loads configuration from YAML file with environment variable overrides
func Load(configFile string) (*Config, error) {
	config := Default()

	if configFile != "" {
		if err := loadFromYAML(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from YAML: %w", err)
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, fmt.Errorf("failed to override with environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Interface:       "0.0.0.0",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			HealthTimeout:   2 * time.Second,

			HandshakeRateLimit:  60,
			HandshakeRateWindow: time.Minute,
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				SigningMethod: "HS256",
				LeewaySeconds: 5,
			},
		},
		Collaboration: CollaborationConfig{
			LockLease:        5 * time.Minute,
			ReapInterval:     10 * time.Second,
			PingInterval:     30 * time.Second,
			MaxMissedPings:   2,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
			StoreTimeout:     10 * time.Second,
			TypingTimeout:    8 * time.Second,
			SendBufferSize:   256,
			MaxSendFailures:  3,
			MaxMessageBytes:  64 * 1024,
			EphemeralRate:    20,
		},
		Store: StoreConfig{
			Driver:          StoreDriverMemory,
			AutoMigrate:     true,
			MaxOpenConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			MongoDatabase:   "netscope",
			MongoCollection: "scans",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
		Logging: LoggingConfig{
			Level:            "info",
			IsDev:            true,
			LogDir:           "logs",
			MaxAgeDays:       7,
			MaxSizeMB:        100,
			MaxBackups:       10,
			AlsoLogToConsole: true,
			RedactAuthTokens: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "scancollab",
			Prometheus:     true,
			ExportInterval: 30 * time.Second,
			SampleRate:     1.0,
		},
	}
}

func loadFromYAML(config *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

func overrideWithEnv(config *Config) error {
	return overrideStructWithEnv(reflect.ValueOf(config).Elem())
}

// overrideStructWithEnv walks nested structs and applies `env` tags, accepting the SCANCOLLAB_ prefix
func overrideStructWithEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := overrideStructWithEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue, ok := envutil.Lookup(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value: %s", value)
		}
		field.SetBool(boolVal)
	case reflect.Int:
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int value: %s", value)
		}
		field.SetInt(int64(intVal))
	case reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int64 value: %s", value)
			}
			field.SetInt(intVal)
		}
	case reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %s", value)
		}
		field.SetFloat(floatVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		slice := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				slice = append(slice, trimmed)
			}
		}
		field.Set(reflect.ValueOf(slice))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

var validSigningMethods = []string{"HS256", "HS384", "HS512"}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Server.TLSEnabled && (c.Server.TLSCertFile == "" || c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls cert and key files are required when tls is enabled"))
	}

	if c.Server.HandshakeRateLimit < 0 {
		errs = append(errs, errors.New("handshake rate limit must not be negative"))
	}
	if c.Server.HandshakeRateLimit > 0 && c.Server.HandshakeRateWindow < time.Second {
		errs = append(errs, errors.New("handshake rate window must be at least 1s"))
	}

	if c.Auth.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	if !slices.Contains(validSigningMethods, c.Auth.JWT.SigningMethod) {
		errs = append(errs, fmt.Errorf("jwt signing method %q is not supported", c.Auth.JWT.SigningMethod))
	}
	if c.Auth.RevocationEnabled && !c.Redis.Enabled {
		errs = append(errs, errors.New("token revocation requires redis to be enabled"))
	}

	collab := c.Collaboration
	if collab.LockLease <= 0 {
		errs = append(errs, errors.New("lock lease must be positive"))
	}
	if collab.ReapInterval <= 0 || collab.ReapInterval > collab.LockLease {
		errs = append(errs, errors.New("reap interval must be positive and no longer than the lock lease"))
	}
	if collab.PingInterval < time.Second {
		errs = append(errs, errors.New("ping interval must be at least 1s"))
	}
	if collab.MaxMissedPings < 1 {
		errs = append(errs, errors.New("max missed pings must be at least 1"))
	}
	if collab.HandshakeTimeout <= 0 || collab.StoreTimeout <= 0 || collab.WriteTimeout <= 0 {
		errs = append(errs, errors.New("handshake, store and write timeouts must be positive"))
	}
	if collab.SendBufferSize < 1 || collab.MaxSendFailures < 1 {
		errs = append(errs, errors.New("send buffer size and max send failures must be at least 1"))
	}
	if collab.MaxMessageBytes < 512 {
		errs = append(errs, errors.New("max message bytes must be at least 512"))
	}
	if collab.EphemeralRate <= 0 {
		errs = append(errs, errors.New("ephemeral rate must be positive"))
	}

	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverPostgres, StoreDriverSQLite, StoreDriverMySQL, StoreDriverSQLServer:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store dsn is required for driver %s", c.Store.Driver))
		}
	case StoreDriverMongo:
		if c.Store.MongoURI == "" || c.Store.MongoDatabase == "" || c.Store.MongoCollection == "" {
			errs = append(errs, errors.New("mongo uri, database and collection are required for driver mongodb"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.Redis.Enabled && (c.Redis.Host == "" || c.Redis.Port == "") {
		errs = append(errs, errors.New("redis host and port are required when redis is enabled"))
	}

	return errors.Join(errs...)
}

// GetLogLevel returns the parsed log level
func (c *Config) GetLogLevel() slogging.LogLevel {
	return slogging.ParseLogLevel(c.Logging.Level)
}

// ListenAddress returns interface:port for the HTTP server
func (c *Config) ListenAddress() string {
	return c.Server.Interface + ":" + c.Server.Port
}

// RedisAddress returns host:port for the Redis client
func (c *Config) RedisAddress() string {
	return c.Redis.Host + ":" + c.Redis.Port
}

// PongWait is how long a connection may stay silent before it is considered dead:
// MaxMissedPings unanswered pings plus half an interval of grace
func (c *CollaborationConfig) PongWait() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPings) + c.PingInterval/2
}
