package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the configuration shared by the commands, read from an optional YAML file and the
// environment.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
}

// StorageConfig locates the record store.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port    int   `yaml:"port"`
	Logging *bool `yaml:"logging"`
}

// RequestLogging reports whether HTTP requests shall be logged. It is on unless turned off.
func (s ServerConfig) RequestLogging() bool {
	return s.Logging == nil || *s.Logging
}

// DatabaseConfig describes the MySQL database of the legacy contacts service.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// DSN returns the data source name for the MySQL driver.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", d.User, d.Password, d.Host, d.Name)
}

// Load reads the config from the YAML file at path and applies environment variable overrides.
// An empty path, or a path to a file that does not exist, yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := setDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(cfg *Config) error {
	if cfg.Storage.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get user home directory: %w", err)
		}
		cfg.Storage.DataDir = filepath.Join(homeDir, ".lkit")
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "test"
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LKIT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("could not parse PORT env variable %q", v)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("GIN_LOGGING"); v != "" {
		logging := !strings.EqualFold(v, "off")
		cfg.Server.Logging = &logging
	}
	if v := os.Getenv("DBHOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DBUSER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DBPWD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DBNAME"); v != "" {
		cfg.Database.Name = v
	}
	return nil
}
