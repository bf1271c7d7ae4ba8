package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/serial"
	"github.com/spf13/viper"
)

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Adapter  AdapterConfig  `mapstructure:"adapter"`
	Query    QueryConfig    `mapstructure:"query"`
	PIDs     PIDsConfig     `mapstructure:"pids"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AdapterConfig struct {
	Port         string        `mapstructure:"port"`
	BaudRate     int           `mapstructure:"baud_rate"`
	Protocol     string        `mapstructure:"protocol"`
	FlowControl  string        `mapstructure:"flow_control"`
	Backend      string        `mapstructure:"backend"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	ProbeCommand string        `mapstructure:"probe_command"`
	ProbeExpect  string        `mapstructure:"probe_expect"`
	InitCommands []string      `mapstructure:"init_commands"`
	PhraseTable  string        `mapstructure:"phrase_table"`
	AutoInit     bool          `mapstructure:"auto_init"`
}

type QueryConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	MaxInterval    time.Duration `mapstructure:"max_interval"`
	Step           time.Duration `mapstructure:"step"`
	AdaptPeriod    time.Duration `mapstructure:"adapt_period"`
	ErrorThreshold int           `mapstructure:"error_threshold"`
	PaceMinimum    time.Duration `mapstructure:"pace_minimum"`
	AutoReconnect  bool          `mapstructure:"auto_reconnect"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

type PIDsConfig struct {
	Profiles []string `mapstructure:"profiles"`
	Active   []string `mapstructure:"active"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Directory string `mapstructure:"directory"`
	Autostart bool   `mapstructure:"autostart"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type AuthConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	JWTSecretEnv         string        `mapstructure:"jwt_secret_env"`
	OperatorPasswordHash string        `mapstructure:"operator_password_hash"`
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("adapter.port", "/dev/ttyUSB0")
	v.SetDefault("adapter.baud_rate", 38400)
	v.SetDefault("adapter.protocol", "8N1")
	v.SetDefault("adapter.flow_control", "none")
	v.SetDefault("adapter.backend", "auto")
	v.SetDefault("adapter.read_timeout", "2s")
	v.SetDefault("adapter.ready_timeout", "5s")
	v.SetDefault("adapter.probe_command", "ATI")
	v.SetDefault("adapter.probe_expect", "ELM")
	v.SetDefault("adapter.init_commands", []string{"ATZ", "ATE0", "ATL0", "ATH0", "ATSP0"})
	v.SetDefault("adapter.auto_init", true)

	v.SetDefault("query.interval", "200ms")
	v.SetDefault("query.min_interval", "50ms")
	v.SetDefault("query.max_interval", "500ms")
	v.SetDefault("query.step", "50ms")
	v.SetDefault("query.adapt_period", "60s")
	v.SetDefault("query.error_threshold", 10)
	v.SetDefault("query.pace_minimum", "10ms")
	v.SetDefault("query.auto_reconnect", true)
	v.SetDefault("query.reconnect_delay", "1s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.directory", "./logs")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "openobd")
	v.SetDefault("database.user", "openobd")
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")

	v.SetDefault("metrics.enabled", true)
}

// Load reads the YAML file at path on top of the defaults. An empty path
// yields the defaults plus OBD_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OBD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	q := c.Query
	if q.MinInterval <= 0 {
		errs = append(errs, fmt.Errorf("query.min_interval must be positive"))
	}
	if q.MinInterval > q.MaxInterval {
		errs = append(errs, fmt.Errorf("query.min_interval %s exceeds query.max_interval %s", q.MinInterval, q.MaxInterval))
	}
	if q.Interval < q.MinInterval || q.Interval > q.MaxInterval {
		errs = append(errs, fmt.Errorf("query.interval %s outside [%s, %s]", q.Interval, q.MinInterval, q.MaxInterval))
	}
	if q.Step <= 0 {
		errs = append(errs, fmt.Errorf("query.step must be positive"))
	}
	if q.AdaptPeriod < 0 {
		errs = append(errs, fmt.Errorf("query.adapt_period must not be negative"))
	}
	if q.ErrorThreshold <= 0 {
		errs = append(errs, fmt.Errorf("query.error_threshold must be positive"))
	}

	if _, err := serial.ParseFlowControl(c.Adapter.FlowControl); err != nil {
		errs = append(errs, fmt.Errorf("adapter.flow_control: %w", err))
	}
	switch strings.ToLower(c.Adapter.Backend) {
	case "", "auto", "termios", "portable":
	default:
		errs = append(errs, fmt.Errorf("unknown adapter.backend %q", c.Adapter.Backend))
	}
	if !serial.IsStandardRate(c.Adapter.BaudRate) {
		errs = append(errs, fmt.Errorf("adapter.baud_rate %d is not a standard rate", c.Adapter.BaudRate))
	}

	if c.Auth.Enabled && c.Auth.OperatorPasswordHash == "" {
		errs = append(errs, fmt.Errorf("auth.operator_password_hash is required when auth is enabled"))
	}

	return errors.Join(errs...)
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// GetJWTSecret reads the signing secret from the configured environment
// variable, falling back to a development secret.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devJWTSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}
