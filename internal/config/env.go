// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds the settings that only ever come from the environment.
type Env struct {
	// Log is the apex/log level name.
	Log string `env:"STUDIOCACHE_LOG" envDefault:"ERROR"`
	// Cache disables the on-disk store when set to "0" or "false".
	Cache string `env:"STUDIOCACHE_CACHE"`
	// CacheDir overrides the base directory of the on-disk store.
	CacheDir string `env:"STUDIOCACHE_CACHE_DIR"`
	// Cfg points directly at a config file.
	Cfg string `env:"STUDIOCACHE_CFG"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// GetEnv returns the parsed Env. Unparseable values fall back to defaults.
func GetEnv() Env {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Env{Log: "ERROR"}
	}
	return e
}
