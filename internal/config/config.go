/*-------------------------------------------------------------------------
 *
 * config.go
 *    Configuration for NeuronFlow
 *
 * Loads configuration from a YAML file with environment variable
 * overrides. Every binary shares one Config shape; each reads the
 * sections it needs.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 * IDENTIFICATION
 *    NeuronFlow/internal/config/config.go
 *
 *-------------------------------------------------------------------------
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	SMTP      SMTPConfig      `yaml:"smtp"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

/* ConnString builds the lib/pq connection string */
func (d DatabaseConfig) ConnString() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, sslmode)
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ExecutorConfig struct {
	/* PollInterval bounds how long the executor waits between queue polls
	 * when no notification arrives */
	PollInterval time.Duration `yaml:"poll_interval"`
	/* CleanInterval is how often the executor reaps ghost executors */
	CleanInterval time.Duration `yaml:"clean_interval"`
	/* TaskRequestTimeout bounds a single remote task service request.
	 * Zero means no timeout; task bodies can legitimately run for hours. */
	TaskRequestTimeout time.Duration `yaml:"task_request_timeout"`
}

type SchedulerConfig struct {
	/* PollInterval bounds how long the scheduler waits between due-set
	 * reloads when no notification arrives */
	PollInterval time.Duration `yaml:"poll_interval"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

/* DefaultConfig returns the built-in defaults */
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8440,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "neurondb",
			Database:        "neurondb",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Executor: ExecutorConfig{
			PollInterval:  30 * time.Second,
			CleanInterval: time.Minute,
		},
		Scheduler: SchedulerConfig{
			PollInterval: time.Minute,
		},
	}
}

/* LoadConfig loads configuration from a YAML file over the defaults */
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	LoadFromEnv(cfg)
	return cfg, nil
}

/* LoadFromEnv applies environment variable overrides */
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("NEURONFLOW_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("NEURONFLOW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("NEURONFLOW_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("NEURONFLOW_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("NEURONFLOW_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("NEURONFLOW_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("NEURONFLOW_DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("NEURONFLOW_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("NEURONFLOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NEURONFLOW_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("NEURONFLOW_SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("NEURONFLOW_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = port
		}
	}
	if v := os.Getenv("NEURONFLOW_SMTP_USER"); v != "" {
		cfg.SMTP.User = v
	}
	if v := os.Getenv("NEURONFLOW_SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("NEURONFLOW_SMTP_FROM"); v != "" {
		cfg.SMTP.From = v
	}
}
