package main

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the TOML-loadable ambient configuration layer spec.md does
// not define (SPEC_FULL.md §4.I): it only decides how a runtimehost.Config
// gets built, never its shape.
type fileConfig struct {
	MaxLogLevel  uint32 `toml:"max_log_level"`
	FunctionName string `toml:"function_name"`
	DBPath       string `toml:"db_path"`
	SentryDSN    string `toml:"sentry_dsn"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		MaxLogLevel:  3, // info, per spec.md §6's conventional mapping
		FunctionName: "Core_execute_block",
	}
}

// loadFileConfig reads a TOML config file at path, falling back to defaults
// for any field it doesn't set. A missing file is not an error: flags alone
// are a valid way to run the demo.
func loadFileConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
