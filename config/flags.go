// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ConfigFileKey = "config-file"
	DataDirKey    = "data_dir"
	LogLevelKey   = "log_level"
	LogJSONKey    = "log_json"
	LogFileKey    = "log_file"
	PortKey       = "server.port"
	VersionKey    = "version"

	envPrefix = "GATEWAY"
)

// BuildFlagSet returns the gateway's command-line flag set.
func BuildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	fs.String(ConfigFileKey, "", "yaml configuration file")
	fs.String(DataDirKey, "", "directory for the pipe folder and audit database")
	fs.String(LogLevelKey, "", "log level (trace|debug|info|warn|error)")
	fs.Bool(LogJSONKey, false, "emit JSON logs")
	fs.String(LogFileKey, "", "rotating log file path (empty: stderr only)")
	fs.Int(PortKey, 0, "deposit server port")
	fs.Bool(VersionKey, false, "print version and exit")
	return fs
}

// BuildViper parses args into fs and layers flag, env, and file sources into
// a viper instance. Environment variables use the GATEWAY_ prefix with dots
// and dashes mapped to underscores.
func BuildViper(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// Overlay only flags the operator actually set; binding defaults would
	// shadow the config file and the shipped values with flag zeros.
	fs.Visit(func(f *pflag.Flag) {
		switch f.Value.Type() {
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
	if file := v.GetString(ConfigFileKey); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	return v, nil
}

// BuildConfig materializes the configuration: shipped defaults, overlaid
// with whatever the viper instance carries, then validated.
func BuildConfig(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
