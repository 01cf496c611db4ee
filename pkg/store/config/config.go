// SPDX-License-Identifier: Apache-2.0

// Package config implements repository and user configuration, modeled
// on modules/zeta/config: a Config{Core, User} struct loaded from TOML,
// with local-over-global Overwrite merge semantics.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// User identifies the committer recorded in every commit (spec.md §6
// "Environment. User identity (name, email) is required at init or
// clone and is recorded in every commit").
type User struct {
	Name  string `toml:"name,omitempty"`
	Email string `toml:"email,omitempty"`
}

func (u *User) Empty() bool {
	return u == nil || len(u.Name) == 0 || len(u.Email) == 0
}

func overwrite(a, b string) string {
	if len(b) != 0 {
		return b
	}
	return a
}

func (u *User) Overwrite(o *User) {
	u.Name = overwrite(u.Name, o.Name)
	u.Email = overwrite(u.Email, o.Email)
}

// Core holds the backend/compression/concurrency knobs a repository's
// chunked backend and sync client read at open time.
type Core struct {
	CompressionALGO     string `toml:"compression-algo,omitempty"`
	MaxOpenHandles      int64  `toml:"max-open-handles,omitzero"`
	MaxChunkBytes       int64  `toml:"max-chunk-bytes,omitzero"`
	MaxRDCCBytes        int64  `toml:"max-rdcc-bytes,omitzero"`
	ConcurrentTransfers int    `toml:"concurrent-transfers,omitzero"`
	Remote              string `toml:"remote,omitempty"`
}

func (c *Core) Overwrite(o *Core) {
	c.CompressionALGO = overwrite(c.CompressionALGO, o.CompressionALGO)
	c.Remote = overwrite(c.Remote, o.Remote)
	if o.MaxOpenHandles > 0 {
		c.MaxOpenHandles = o.MaxOpenHandles
	}
	if o.MaxChunkBytes > 0 {
		c.MaxChunkBytes = o.MaxChunkBytes
	}
	if o.MaxRDCCBytes > 0 {
		c.MaxRDCCBytes = o.MaxRDCCBytes
	}
	if o.ConcurrentTransfers > 0 {
		c.ConcurrentTransfers = o.ConcurrentTransfers
	}
}

// Config is the full repository/user configuration, read from
// <repo>/.store/config and merged over a user-global config file.
type Config struct {
	Core Core `toml:"core,omitempty"`
	User User `toml:"user,omitempty"`
}

// Overwrite merges o's non-zero fields over c, local config winning over
// global (teacher's "use local config overwrite config" semantics).
func (c *Config) Overwrite(o *Config) {
	c.Core.Overwrite(&o.Core)
	c.User.Overwrite(&o.User)
}

// Default returns the baseline configuration new repositories start
// from before any config file is read.
func Default() *Config {
	return &Config{Core: Core{
		CompressionALGO:     "zstd",
		MaxOpenHandles:      256,
		MaxChunkBytes:       1 << 20,
		MaxRDCCBytes:        64 << 20,
		ConcurrentTransfers: 8,
	}}
}

func globalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".arrayvc.toml")
}

// LoadGlobal reads the user-global config file, if present.
func LoadGlobal() (*Config, error) {
	cfg := Default()
	path := globalPath()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the global config, then overlays <storeDir>/config if it
// exists (storeDir is conventionally "<repo>/.store").
func Load(storeDir string) (*Config, error) {
	cfg, err := LoadGlobal()
	if err != nil {
		return nil, err
	}
	if storeDir == "" {
		return cfg, nil
	}
	local := filepath.Join(storeDir, "config")
	if _, err := os.Stat(local); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	var rc Config
	if _, err := toml.DecodeFile(local, &rc); err != nil {
		return nil, err
	}
	cfg.Overwrite(&rc)
	return cfg, nil
}

// Save writes cfg to <storeDir>/config.
func Save(storeDir string, cfg *Config) error {
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(storeDir, "config"))
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
