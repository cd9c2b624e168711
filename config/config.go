// Package config loads the server configuration, generating a commented
// default file on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
)

const configver = "1.0.0"

// Config type
type Config struct {
	Version  string
	LogLevel string

	Bind string
	API  string

	// AccessList holds client CIDR ranges allowed to query. Empty allows
	// everyone.
	AccessList []string

	// ZoneDir is scanned for *.zone master files; Zones pins extra origin
	// to file mappings explicitly.
	ZoneDir string
	Zones   map[string]string

	// Watch reloads zone files when they change on disk.
	Watch bool

	// JournalPath enables the on-disk changeset journal when set.
	JournalPath string

	// TSIG maps key names to base64 secrets for hmac-sha256 transaction
	// signatures.
	TSIG map[string]string

	sVersion string
}

// ServerVersion return current server version
func (c *Config) ServerVersion() string {
	return c.sVersion
}

var defaultConfig = `
# Config version, config and build versions can be different.
version = "%s"

# Address to bind to for the DNS server
bind = ":53"

# Address to bind to for the HTTP API server, leave blank to disable
api = "127.0.0.1:8080"

# What kind of information should be logged, Log verbosity level [crit, error, warn, info, debug]
loglevel = "info"

# Client whitelist cidr ranges, empty allows all
accesslist = [
]

# Directory scanned for *.zone master files, the origin is the file name
zonedir = "zones"

# Explicit origin to master file mappings
[zones]
# "example.com." = "zones/example.com.zone"

# TSIG keys, name to base64 secret, hmac-sha256
[tsig]
# "transfer-key." = "c2VjcmV0Cg=="
`

// Load loads the given config file
func Load(cfgfile, version string) (*Config, error) {
	config := new(Config)

	if _, err := os.Stat(cfgfile); os.IsNotExist(err) {
		if path, err := filepath.Abs(cfgfile); err == nil {
			cfgfile = path
		}

		zlog.Warn("Config file not found, generating...", "path", cfgfile)

		if err := generateConfig(cfgfile); err != nil {
			return nil, err
		}
	}

	zlog.Info("Loading config file...", "path", cfgfile)

	if _, err := toml.DecodeFile(cfgfile, config); err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	if config.Zones == nil {
		config.Zones = make(map[string]string)
	}
	if config.TSIG == nil {
		config.TSIG = make(map[string]string)
	}
	if config.Watch {
		zlog.Info("Zone file watching enabled")
	}

	config.sVersion = version

	return config, nil
}

func generateConfig(path string) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %w", err)
	}
	defer func() { _ = output.Close() }()

	if _, err := fmt.Fprintf(output, defaultConfig, configver); err != nil {
		return fmt.Errorf("could not write config: %w", err)
	}

	return nil
}
