/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tomoncle/datalayer/utils"
)

// LoadConfig reads a YAML configuration file. Any .env file next to it or in
// the working directory is loaded first; variables already set in the
// process environment win over .env values. Environment overrides are then
// applied on top of the file:
//
//	DB_HOST, DB_PORT, ...          the DefaultConnection context
//	<NAME>_DB_HOST, <NAME>_DB_PORT the context named <name>
//	DAL_ENCRYPTION_KEY             encryption.key
//	DAL_ENCRYPTION_PASSPHRASE      encryption.passphrase
//	DAL_COMMAND_TIMEOUT            command_timeout (seconds)
func LoadConfig(path string) (*Config, error) {
	loadDotEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration and applies defaults and
// environment overrides. It does not load .env files.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(configPath string) {
	var files []string
	for _, candidate := range []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"} {
		if _, err := os.Stat(candidate); err == nil {
			files = append(files, candidate)
		}
	}
	if len(files) > 0 {
		_ = godotenv.Load(files...)
	}
}

func (c *Config) normalize() error {
	if len(c.Contexts) == 0 {
		return NewConfigurationError("no contexts configured")
	}
	seen := make(map[string]struct{}, len(c.Contexts))
	for i := range c.Contexts {
		cc := &c.Contexts[i]
		cc.Name = strings.TrimSpace(cc.Name)
		if cc.Name == "" {
			cc.Name = DefaultContextName
		}
		if _, dup := seen[cc.Name]; dup {
			return NewConfigurationError("context %q is configured more than once", cc.Name)
		}
		seen[cc.Name] = struct{}{}

		overrideFromEnv(envPrefix(cc.Name), &cc.Connection)
		cc.Connection = cc.Connection.withDefaults()
	}

	if v := os.Getenv("DAL_ENCRYPTION_KEY"); v != "" {
		c.Encryption.Key = v
	}
	if v := os.Getenv("DAL_ENCRYPTION_PASSPHRASE"); v != "" {
		c.Encryption.Passphrase = v
	}
	if v := os.Getenv("DAL_ENCRYPTION_SALT"); v != "" {
		c.Encryption.Salt = v
	}
	c.CommandTimeout = utils.EnvDefaultInt("DAL_COMMAND_TIMEOUT", c.CommandTimeout)
	if c.CommandTimeout < 0 {
		return NewConfigurationError("command_timeout must not be negative, got %d", c.CommandTimeout)
	}
	return nil
}

// envPrefix is empty for the default context so plain DB_* variables keep
// working for single database deployments.
func envPrefix(contextName string) string {
	if IsDefaultContextName(contextName) {
		return ""
	}
	return utils.EnvKey(contextName, "")
}

// overrideFromEnv overrides connection values from environment variables.
func overrideFromEnv(prefix string, cfg *ConnectionConfig) {
	get := func(key string) string { return os.Getenv(prefix + key) }
	seconds := func(key string, dst *time.Duration) {
		if v := get(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = time.Duration(n) * time.Second
			}
		}
	}

	if v := get("DB_TYPE"); v != "" {
		cfg.Type = v
	}
	if v := get("DB_HOST"); v != "" {
		cfg.Host = v
	}
	if v := get("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := get("DB_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := get("DB_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := get("DB_NAME"); v != "" {
		cfg.DBName = v
	}
	if v := get("DB_SSLMODE"); v != "" {
		cfg.SSLMode = v
	}
	if v := get("DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIdleConns = n
		}
	}
	if v := get("DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxOpenConns = n
		}
	}
	seconds("DB_CONN_MAX_LIFETIME", &cfg.ConnMaxLifetime)
	seconds("DB_RECONNECT_INTERVAL", &cfg.ReconnectInterval)
	if v := get("DB_ENABLE_RECONNECT"); v != "" {
		cfg.EnableReconnect = v == "true"
	}
	if v := get("DB_ENABLE_QUERY_LOG"); v != "" {
		cfg.EnableQueryLog = v == "true"
	}
}
