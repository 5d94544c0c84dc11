// Package config loads the server's YAML configuration: sane defaults
// baked in, YAML only overrides what the file actually sets.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Server holds every tunable the sosserver binary needs.
type Server struct {
	// Network — the dispatcher's listening address.
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	Database DatabaseConfig `yaml:"database"`

	// LogLevel is one of debug/info/warn/error; unrecognized values fall
	// back to info.
	LogLevel string `yaml:"log_level"`

	// IdleReclaimSeconds is how long a game runner waits with no online
	// players before ending the game as a draw and exiting.
	IdleReclaimSeconds int `yaml:"idle_reclaim_seconds"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	MaxConns        int32  `yaml:"max_conns"`
	MinConns        int32  `yaml:"min_conns"`
	MaxConnLifetime string `yaml:"max_conn_lifetime"`
	MaxConnIdleTime string `yaml:"max_conn_idle_time"`
}

// DSN returns the PostgreSQL connection string for pgxpool.
func (d DatabaseConfig) DSN() string {
	base := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)

	var params string
	if d.MaxConns > 0 {
		params += fmt.Sprintf("&pool_max_conns=%d", d.MaxConns)
	}
	if d.MinConns > 0 {
		params += fmt.Sprintf("&pool_min_conns=%d", d.MinConns)
	}
	if d.MaxConnLifetime != "" {
		params += fmt.Sprintf("&pool_max_conn_lifetime=%s", d.MaxConnLifetime)
	}
	if d.MaxConnIdleTime != "" {
		params += fmt.Sprintf("&pool_max_conn_idle_time=%s", d.MaxConnIdleTime)
	}
	return base + params
}

// Default returns the out-of-the-box configuration.
func Default() Server {
	return Server{
		BindAddress:        "127.0.0.1",
		Port:               12345,
		LogLevel:           "info",
		IdleReclaimSeconds: 30,
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "sos",
			Password: "sos",
			DBName:   "sos",
			SSLMode:  "disable",
		},
	}
}

// Load reads YAML config from path, returning Default() untouched if the
// file does not exist.
func Load(path string) (Server, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Addr is the dispatcher's listen address in host:port form.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.Port)
}
