// Package config loads the ring name/capacity/directory settings shared by
// the cmd/shmping and cmd/shmpipe binaries, layering an optional JSONC file
// under whatever flags the caller already parsed.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Ring holds the settings both demonstration binaries need to create or
// open a ring. Zero values mean "not set"; when a config file is merged
// over the defaults, only its non-zero fields replace the default values.
type Ring struct {
	Name     string `json:"name,omitempty"`
	Capacity uint64 `json:"capacity,omitempty"`
	Dir      string `json:"dir,omitempty"`
}

// Default returns the baseline configuration, used before any file or flag
// override is applied.
func Default() Ring {
	return Ring{
		Name:     "shmring",
		Capacity: 1 << 20,
	}
}

// Load reads path (a JSONC file, comments and trailing commas allowed) and
// merges it over Default(). A missing path is not an error: it returns
// Default() unchanged, since the config file is always optional.
func Load(path string) (Ring, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied, not attacker-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Ring{}, fmt.Errorf("read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Ring{}, fmt.Errorf("parse config %s: invalid JSONC: %w", path, err)
	}

	var fromFile Ring
	if err := json.Unmarshal(standardized, &fromFile); err != nil {
		return Ring{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg.merge(fromFile), nil
}

// merge overlays non-zero fields of other onto r, returning the result.
func (r Ring) merge(other Ring) Ring {
	if other.Name != "" {
		r.Name = other.Name
	}
	if other.Capacity != 0 {
		r.Capacity = other.Capacity
	}
	if other.Dir != "" {
		r.Dir = other.Dir
	}
	return r
}

// ApplyFlags overlays values explicitly set on the command line, which
// always win over both the default and the config file. changed reports,
// per field name ("name", "capacity", "dir"), whether the flag was set.
func (r Ring) ApplyFlags(name string, capacity uint64, dir string, changed func(flag string) bool) Ring {
	if changed("name") {
		r.Name = name
	}
	if changed("capacity") {
		r.Capacity = capacity
	}
	if changed("dir") {
		r.Dir = dir
	}
	return r
}
