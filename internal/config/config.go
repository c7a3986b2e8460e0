// Package config loads service configuration from the environment (and an
// optional .env file).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pesio-ai/be-procurement-letters/pkg/database"
)

// Config is the full service configuration.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	NATS     NATSConfig
	Routing  RoutingConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
	LogLevel    string
}

type ServerConfig struct {
	Port            int
	GRPCPort        int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	Schema      string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

// NATSConfig is optional; an empty URL disables notifications.
type NATSConfig struct {
	URL    string
	Stream string
}

// RoutingConfig describes the organisational topology the approver resolver
// works against.
type RoutingConfig struct {
	// CentralUnitCode is the unit central-scope roles are always resolved in.
	CentralUnitCode string
	// CentralRoleCodes are role codes resolved against the central unit
	// regardless of the letter's home unit.
	CentralRoleCodes []string
}

var defaults = map[string]any{
	"service.name":        "be-procurement-letters",
	"service.version":     "dev",
	"service.environment": "development",
	"log.level":           "info",

	"server.port":             8080,
	"grpc.port":               9090,
	"server.read_timeout":     "15s",
	"server.write_timeout":    "15s",
	"server.idle_timeout":     "60s",
	"server.request_timeout":  "30s",
	"server.shutdown_timeout": "20s",

	"database.host":          "localhost",
	"database.port":          5432,
	"database.user":          "postgres",
	"database.password":      "",
	"database.name":          "procurement",
	"database.sslmode":       "disable",
	"database.schema":        "",
	"database.max_conns":     10,
	"database.min_conns":     2,
	"database.max_conn_time": "1h",
	"database.max_idle_time": "30m",
	"database.health_check":  "1m",

	"jwt.secret": "",

	"nats.url":    "",
	"nats.stream": "NOTIFICATIONS",

	"routing.central_unit_code":  "HO",
	"routing.central_role_codes": "DIREKTUR_KEUANGAN,DIREKTUR_OPERASIONAL,DIREKTUR_UTAMA,KADIV_KEUANGAN,GENERAL_AFFAIR",
}

// Load reads .env (if present) and the environment. Keys map to upper-case
// env vars with dots replaced by underscores, e.g. database.host -> DATABASE_HOST.
func Load() (*Config, error) {
	cfg := read()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTooling is Load for command-line tools that only talk to the database.
func LoadTooling() (*Config, error) {
	cfg := read()
	if cfg.Database.Host == "" {
		return nil, fmt.Errorf("missing required configuration: DATABASE_HOST")
	}
	return cfg, nil
}

func read() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	cfg := &Config{
		Service: ServiceConfig{
			Name:        v.GetString("service.name"),
			Version:     v.GetString("service.version"),
			Environment: v.GetString("service.environment"),
			LogLevel:    v.GetString("log.level"),
		},
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			GRPCPort:        v.GetInt("grpc.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Host:        v.GetString("database.host"),
			Port:        v.GetInt("database.port"),
			User:        v.GetString("database.user"),
			Password:    v.GetString("database.password"),
			Database:    v.GetString("database.name"),
			SSLMode:     v.GetString("database.sslmode"),
			Schema:      v.GetString("database.schema"),
			MaxConns:    v.GetInt32("database.max_conns"),
			MinConns:    v.GetInt32("database.min_conns"),
			MaxConnTime: v.GetDuration("database.max_conn_time"),
			MaxIdleTime: v.GetDuration("database.max_idle_time"),
			HealthCheck: v.GetDuration("database.health_check"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("jwt.secret"),
		},
		NATS: NATSConfig{
			URL:    v.GetString("nats.url"),
			Stream: v.GetString("nats.stream"),
		},
		Routing: RoutingConfig{
			CentralUnitCode:  strings.TrimSpace(v.GetString("routing.central_unit_code")),
			CentralRoleCodes: splitList(v.GetString("routing.central_role_codes")),
		},
	}
	return cfg
}

// Pool converts the settings to the connection pool configuration.
func (d DatabaseConfig) Pool() database.Config {
	return database.Config{
		Host:        d.Host,
		Port:        d.Port,
		User:        d.User,
		Password:    d.Password,
		Database:    d.Database,
		SSLMode:     d.SSLMode,
		Schema:      d.Schema,
		MaxConns:    d.MaxConns,
		MinConns:    d.MinConns,
		MaxConnTime: d.MaxConnTime,
		MaxIdleTime: d.MaxIdleTime,
		HealthCheck: d.HealthCheck,
	}
}

// Validate checks required settings.
func (c *Config) Validate() error {
	var missing []string
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Database.Host == "" {
		missing = append(missing, "DATABASE_HOST")
	}
	if c.Routing.CentralUnitCode == "" {
		missing = append(missing, "ROUTING_CENTRAL_UNIT_CODE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Server.Port <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("invalid ports: http=%d grpc=%d", c.Server.Port, c.Server.GRPCPort)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
