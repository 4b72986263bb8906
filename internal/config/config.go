// Package config parses the channel descriptor files the demo CLIs
// (cmd/shmq-writer, cmd/shmq-reader) take as input — JSON-with-comments
// so an operator can annotate a descriptor committed next to a service,
// parsed leniently so that trailing commas and comments are tolerated.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/orizon-lang/shmqueue/internal/plat"
)

// Channel describes a channel an operator wants to create or open.
type Channel struct {
	Name     string     `json:"name"`
	Capacity int64      `json:"capacity"`
	Scope    plat.Scope `json:"-"`

	// ScopeName is the textual scope field as it appears on disk
	// ("local" or "global"); Scope is populated from it after parsing.
	ScopeName string `json:"scope"`
}

// Load reads and parses a channel descriptor file at path.
func Load(path string) (Channel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Channel{}, err
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return Channel{}, fmt.Errorf("config: %s: %w", path, err)
	}

	var c Channel
	if err := json.Unmarshal(std, &c); err != nil {
		return Channel{}, fmt.Errorf("config: %s: %w", path, err)
	}

	switch c.ScopeName {
	case "", "local":
		c.Scope = plat.ScopeLocal
	case "global":
		c.Scope = plat.ScopeGlobal
	default:
		return Channel{}, fmt.Errorf("config: %s: unknown scope %q", path, c.ScopeName)
	}

	if c.Name == "" {
		return Channel{}, fmt.Errorf("config: %s: name is required", path)
	}

	if c.Capacity <= 0 {
		return Channel{}, fmt.Errorf("config: %s: capacity must be positive", path)
	}

	return c, nil
}
