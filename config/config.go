// Package config holds the settings of the sfsutil tool.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type DiskConfig struct {
	Path   string `yaml:"path" env:"SFS_DISK_PATH" env-default:"sfs.img"`
	Blocks uint64 `yaml:"blocks" env:"SFS_DISK_BLOCKS" env-default:"4096"`
}

type LogConfig struct {
	Debug  uint64 `yaml:"debug" env:"SFS_DEBUG" env-default:"0"`
	Format string `yaml:"format" env:"SFS_LOG_FORMAT" env-default:"text"`
}

type StressConfig struct {
	Workers int `yaml:"workers" env-default:"4"`
	Files   int `yaml:"files" env-default:"32"`
}

type Config struct {
	Disk   DiskConfig   `yaml:"disk"`
	Log    LogConfig    `yaml:"log"`
	Stress StressConfig `yaml:"stress"`
}

func (cfg *Config) validate() error {
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, not %q", cfg.Log.Format)
	}
	if cfg.Stress.Workers <= 0 || cfg.Stress.Files <= 0 {
		return fmt.Errorf("stress.workers and stress.files must be positive")
	}
	return nil
}

// Load reads the configuration from the environment alone.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading config from environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a YAML config file. ${VAR} references in the file are
// expanded first, and SFS_* variables override what the file says.
func LoadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Enrich with env variables
	data = expandEnvVars(data)

	var cfg Config
	if err := cleanenv.ParseYAML(bytes.NewReader(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading config from environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad(configPath string) *Config {
	if configPath == "" {
		panic("config path is empty")
	}

	// check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		panic("cannot read config: " + err.Error())
	}
	return cfg
}

func expandEnvVars(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
