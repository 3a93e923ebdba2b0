// Package config loads shell settings from defaults, an optional YAML file,
// STSH_* environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	KeyPrompt     = "prompt"
	KeyLogLevel   = "log.level"
	KeyLogFormat  = "log.format"
	KeyStatusAddr = "status.addr"
)

// Config holds all configuration values for the shell.
type Config struct {
	// Prompt is printed before each line when stdin is a terminal.
	Prompt string

	LogLevel  string
	LogFormat string

	// StatusAddr is where the job status endpoint listens. Empty disables it.
	StatusAddr string
}

// NewViper returns a viper instance with defaults and environment binding
// set up. cfgFile overrides the default $HOME/.stsh.yaml lookup.
func NewViper(cfgFile string) *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyPrompt, "stsh> ")
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyStatusAddr, "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".stsh")
		v.SetConfigType("yaml")
	}

	// STSH_LOG_LEVEL for log.level
	v.SetEnvPrefix("STSH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and returns the merged configuration.
// A missing default file is not an error; a missing explicit file is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Prompt:     v.GetString(KeyPrompt),
		LogLevel:   v.GetString(KeyLogLevel),
		LogFormat:  v.GetString(KeyLogFormat),
		StatusAddr: v.GetString(KeyStatusAddr),
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid %s %q: want text or json", KeyLogFormat, cfg.LogFormat)
	}
	return cfg, nil
}

// Used reports the config file that was read, for the startup log.
func Used(v *viper.Viper) string {
	if f := v.ConfigFileUsed(); f != "" {
		if _, err := os.Stat(f); err == nil {
			return filepath.Clean(f)
		}
	}
	return ""
}
