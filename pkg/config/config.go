package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/saaga0h/circadianlight/internal/circadian"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "CIRCADIAN_"

// Config holds the configuration for circadianlight
type Config struct {
	// Sources (never read from the file itself)
	ConfigFile string `yaml:"-"`
	EnvFile    string `yaml:"-"`

	// Service configuration
	ServiceName string `yaml:"service_name"`
	HealthPort  int    `yaml:"health_port"`
	LogLevel    string `yaml:"log_level"`

	// Phase boundaries, as HH:MM or decimal hours
	DayStart   string `yaml:"day_start"`
	DuskStart  string `yaml:"dusk_start"`
	NightStart string `yaml:"night_start"`

	// Night target gains
	NightRed   float64 `yaml:"night_red"`
	NightGreen float64 `yaml:"night_green"`
	NightBlue  float64 `yaml:"night_blue"`

	// Service loop configuration
	SleepSeconds          int    `yaml:"sleep_seconds"`
	RefreshSeconds        int    `yaml:"refresh_seconds"`
	Output                string `yaml:"output"`
	RestoreOnExit         bool   `yaml:"restore_on_exit"`
	ManualOverrideMinutes int    `yaml:"manual_override_minutes"`

	// MQTT configuration
	MQTTEnabled  bool   `yaml:"mqtt_enabled"`
	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTPort     int    `yaml:"mqtt_port"`
	MQTTUser     string `yaml:"mqtt_user"`
	MQTTPassword string `yaml:"mqtt_password"`
	MQTTClientID string `yaml:"mqtt_client_id"`

	// Redis configuration
	RedisEnabled  bool   `yaml:"redis_enabled"`
	RedisHost     string `yaml:"redis_host"`
	RedisPort     int    `yaml:"redis_port"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Postgres configuration
	PostgresEnabled            bool          `yaml:"postgres_enabled"`
	PostgresHost               string        `yaml:"postgres_host"`
	PostgresPort               int           `yaml:"postgres_port"`
	PostgresUser               string        `yaml:"postgres_user"`
	PostgresPassword           string        `yaml:"postgres_password"`
	PostgresDB                 string        `yaml:"postgres_db"`
	PostgresSSLMode            string        `yaml:"postgres_sslmode"`
	PostgresMaxConnections     int           `yaml:"postgres_max_connections"`
	PostgresMaxIdleConnections int           `yaml:"postgres_max_idle_connections"`
	PostgresConnMaxLifetime    time.Duration `yaml:"postgres_conn_max_lifetime"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	defaults := circadian.DefaultConfig()
	return &Config{
		ServiceName: "circadianlight",
		HealthPort:  0,
		LogLevel:    "info",

		DayStart:   circadian.FormatClock(defaults.Hours.DayStart),
		DuskStart:  circadian.FormatClock(defaults.Hours.DuskStart),
		NightStart: circadian.FormatClock(defaults.Hours.NightStart),
		NightRed:   defaults.Night.Red,
		NightGreen: defaults.Night.Green,
		NightBlue:  defaults.Night.Blue,

		SleepSeconds:          60,
		RefreshSeconds:        300,
		Output:                "",
		RestoreOnExit:         true,
		ManualOverrideMinutes: 60,

		MQTTBroker: "localhost",
		MQTTPort:   1883,

		RedisHost: "localhost",
		RedisPort: 6379,

		PostgresHost:               "localhost",
		PostgresPort:               5432,
		PostgresUser:               "circadian",
		PostgresDB:                 "circadian",
		PostgresSSLMode:            "disable",
		PostgresMaxConnections:     4,
		PostgresMaxIdleConnections: 2,
		PostgresConnMaxLifetime:    30 * time.Minute,
	}
}

// RegisterFlags binds every configuration value to a flag on fs
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	// Sources
	fs.StringVarP(&c.ConfigFile, "config", "c", c.ConfigFile, "YAML configuration file")
	fs.StringVar(&c.EnvFile, "env-file", c.EnvFile, "Environment file with CIRCADIAN_* variables")

	// Service flags
	fs.StringVar(&c.ServiceName, "service-name", c.ServiceName, "Service name, used in MQTT topics and Redis keys")
	fs.IntVar(&c.HealthPort, "health-port", c.HealthPort, "Health and metrics HTTP port (0 disables)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")

	// Gamma flags
	fs.StringVarP(&c.DayStart, "day-start", "d", c.DayStart, "Starting hour of the day phase")
	fs.StringVarP(&c.DuskStart, "dusk-start", "D", c.DuskStart, "Starting hour of the dusk phase")
	fs.StringVarP(&c.NightStart, "night-start", "n", c.NightStart, "Starting hour of the night phase")
	fs.Float64VarP(&c.NightRed, "night-red", "r", c.NightRed, "Red channel gain at night, in [0,1]")
	fs.Float64VarP(&c.NightGreen, "night-green", "g", c.NightGreen, "Green channel gain at night, in [0,1]")
	fs.Float64VarP(&c.NightBlue, "night-blue", "b", c.NightBlue, "Blue channel gain at night, in [0,1]")

	// Service loop flags
	fs.IntVarP(&c.SleepSeconds, "sleep-seconds", "s", c.SleepSeconds, "Seconds to wait between gamma updates")
	fs.IntVar(&c.RefreshSeconds, "refresh-seconds", c.RefreshSeconds, "Re-apply unchanged gamma after this many seconds (0 disables)")
	fs.StringVarP(&c.Output, "output", "m", c.Output, "Display output to adjust (default: first listed monitor)")
	fs.BoolVar(&c.RestoreOnExit, "restore-on-exit", c.RestoreOnExit, "Reset gamma to neutral when the service stops")
	fs.IntVar(&c.ManualOverrideMinutes, "manual-override-minutes", c.ManualOverrideMinutes, "Default pause duration for pause commands")

	// MQTT flags
	fs.BoolVar(&c.MQTTEnabled, "mqtt", c.MQTTEnabled, "Publish gamma state and accept commands over MQTT")
	fs.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker hostname")
	fs.IntVar(&c.MQTTPort, "mqtt-port", c.MQTTPort, "MQTT broker port")
	fs.StringVar(&c.MQTTUser, "mqtt-user", c.MQTTUser, "MQTT username")
	fs.StringVar(&c.MQTTPassword, "mqtt-password", c.MQTTPassword, "MQTT password")
	fs.StringVar(&c.MQTTClientID, "mqtt-client-id", c.MQTTClientID, "MQTT client ID")

	// Redis flags
	fs.BoolVar(&c.RedisEnabled, "redis", c.RedisEnabled, "Store the last applied gamma in Redis")
	fs.StringVar(&c.RedisHost, "redis-host", c.RedisHost, "Redis hostname")
	fs.IntVar(&c.RedisPort, "redis-port", c.RedisPort, "Redis port")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")

	// Postgres flags
	fs.BoolVar(&c.PostgresEnabled, "postgres", c.PostgresEnabled, "Record gamma history in Postgres")
	fs.StringVar(&c.PostgresHost, "postgres-host", c.PostgresHost, "Postgres hostname")
	fs.IntVar(&c.PostgresPort, "postgres-port", c.PostgresPort, "Postgres port")
	fs.StringVar(&c.PostgresUser, "postgres-user", c.PostgresUser, "Postgres user")
	fs.StringVar(&c.PostgresPassword, "postgres-password", c.PostgresPassword, "Postgres password")
	fs.StringVar(&c.PostgresDB, "postgres-db", c.PostgresDB, "Postgres database")
	fs.StringVar(&c.PostgresSSLMode, "postgres-sslmode", c.PostgresSSLMode, "Postgres sslmode")
}

// Load fills the config with hierarchy: defaults → file → env file → env → flags.
// Flags already parsed into fs keep precedence over everything else.
func (c *Config) Load(fs *pflag.FlagSet) error {
	overrides := make(map[string]string)
	if fs != nil {
		fs.Visit(func(f *pflag.Flag) {
			overrides[f.Name] = f.Value.String()
		})
	}

	if c.EnvFile != "" {
		if err := godotenv.Load(c.EnvFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", c.EnvFile, err)
		}
	}

	path := c.ConfigFile
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := c.LoadFromFile(path); err != nil {
			return err
		}
		c.ConfigFile = path
	}

	c.LoadFromEnv()

	for name, value := range overrides {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("failed to reapply flag --%s: %w", name, err)
		}
	}
	return nil
}

// LoadFromFile reads a YAML file on top of the current values.
// Unknown keys are rejected to catch typos.
func (c *Config) LoadFromFile(path string) error {
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables with CIRCADIAN_ prefix
func (c *Config) LoadFromEnv() {
	envString("SERVICE_NAME", &c.ServiceName)
	envInt("HEALTH_PORT", &c.HealthPort)
	envString("LOG_LEVEL", &c.LogLevel)

	envString("DAY_START", &c.DayStart)
	envString("DUSK_START", &c.DuskStart)
	envString("NIGHT_START", &c.NightStart)
	envFloat("NIGHT_RED", &c.NightRed)
	envFloat("NIGHT_GREEN", &c.NightGreen)
	envFloat("NIGHT_BLUE", &c.NightBlue)

	envInt("SLEEP_SECONDS", &c.SleepSeconds)
	envInt("REFRESH_SECONDS", &c.RefreshSeconds)
	envString("OUTPUT", &c.Output)
	envBool("RESTORE_ON_EXIT", &c.RestoreOnExit)
	envInt("MANUAL_OVERRIDE_MINUTES", &c.ManualOverrideMinutes)

	envBool("MQTT_ENABLED", &c.MQTTEnabled)
	envString("MQTT_BROKER", &c.MQTTBroker)
	envInt("MQTT_PORT", &c.MQTTPort)
	envString("MQTT_USER", &c.MQTTUser)
	envString("MQTT_PASSWORD", &c.MQTTPassword)
	envString("MQTT_CLIENT_ID", &c.MQTTClientID)

	envBool("REDIS_ENABLED", &c.RedisEnabled)
	envString("REDIS_HOST", &c.RedisHost)
	envInt("REDIS_PORT", &c.RedisPort)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envInt("REDIS_DB", &c.RedisDB)

	envBool("POSTGRES_ENABLED", &c.PostgresEnabled)
	envString("POSTGRES_HOST", &c.PostgresHost)
	envInt("POSTGRES_PORT", &c.PostgresPort)
	envString("POSTGRES_USER", &c.PostgresUser)
	envString("POSTGRES_PASSWORD", &c.PostgresPassword)
	envString("POSTGRES_DB", &c.PostgresDB)
	envString("POSTGRES_SSLMODE", &c.PostgresSSLMode)
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("health port must be between 0 and 65535")
	}
	if c.SleepSeconds <= 0 {
		return fmt.Errorf("sleep seconds must be positive")
	}
	if c.RefreshSeconds < 0 {
		return fmt.Errorf("refresh seconds must not be negative")
	}
	if c.ManualOverrideMinutes <= 0 {
		return fmt.Errorf("manual override minutes must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.MQTTEnabled {
		if c.MQTTBroker == "" {
			return fmt.Errorf("MQTT broker is required")
		}
		if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
			return fmt.Errorf("MQTT port must be between 1 and 65535")
		}
	}
	if c.RedisEnabled {
		if c.RedisHost == "" {
			return fmt.Errorf("Redis host is required")
		}
		if c.RedisPort <= 0 || c.RedisPort > 65535 {
			return fmt.Errorf("Redis port must be between 1 and 65535")
		}
	}
	if c.PostgresEnabled {
		if c.PostgresHost == "" || c.PostgresDB == "" {
			return fmt.Errorf("Postgres host and database are required")
		}
		if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
			return fmt.Errorf("Postgres port must be between 1 and 65535")
		}
	}

	if _, err := c.Circadian(); err != nil {
		return err
	}
	return nil
}

// Circadian builds the mapper configuration from the phase and gain settings.
// Errors wrap circadian.ErrInvalidConfiguration.
func (c *Config) Circadian() (circadian.Config, error) {
	var hours circadian.Hours
	for _, field := range []struct {
		name  string
		value string
		dst   *float64
	}{
		{"day start", c.DayStart, &hours.DayStart},
		{"dusk start", c.DuskStart, &hours.DuskStart},
		{"night start", c.NightStart, &hours.NightStart},
	} {
		h, err := circadian.ParseClock(field.value)
		if err != nil {
			return circadian.Config{}, fmt.Errorf("%w: %s: %v", circadian.ErrInvalidConfiguration, field.name, err)
		}
		*field.dst = h
	}

	return circadian.NewConfig(hours, circadian.Triple{
		Red:   c.NightRed,
		Green: c.NightGreen,
		Blue:  c.NightBlue,
	})
}

// SleepInterval returns the service loop interval
func (c *Config) SleepInterval() time.Duration {
	return time.Duration(c.SleepSeconds) * time.Second
}

// RefreshInterval returns the forced re-apply interval, 0 when disabled
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshSeconds) * time.Second
}

// MQTTAddress returns the full MQTT broker address
func (c *Config) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

// RedisAddress returns the full Redis address
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresConnectionString returns the lib/pq connection string
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode)
}

// ExpandPath expands a leading ~ to the user's home directory
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
