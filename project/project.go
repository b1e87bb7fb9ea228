// Package project loads the project file: a versioned, ordered list of
// channels.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"github.com/scomans/dev-console-sub000/channel"
)

// CurrentVersion is the schema version written by current tooling.
const CurrentVersion = 1

var (
	// ErrDuplicateID is returned when two channels share an identifier.
	ErrDuplicateID = errors.New("duplicate channel id")
	// ErrNoChannels is returned when the document has no channel list.
	ErrNoChannels = errors.New("project has no channels")
)

// Project is a loaded project file.
type Project struct {
	Version  int               `json:"version"`
	Channels []channel.Channel `json:"channels"`

	// Path is the absolute location the project was loaded from.
	Path string `json:"-"`
}

// Load reads and validates the project at path.
func Load(path string) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", abs, err)
	}
	p.Path = abs
	return p, nil
}

// Parse decodes a project document. Besides the plain
// {"version": N, "channels": [...]} shape it accepts the legacy entity-store
// envelope {"channels": {"ids": [...], "entities": {...}}}.
func Parse(data []byte) (*Project, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}

	channels := gjson.GetBytes(data, "channels")
	p := &Project{Version: int(gjson.GetBytes(data, "version").Int())}

	switch {
	case channels.IsArray():
		if err := json.Unmarshal([]byte(channels.Raw), &p.Channels); err != nil {
			return nil, fmt.Errorf("decode channels: %w", err)
		}
	case channels.IsObject() && channels.Get("entities").Exists():
		list, err := flattenEntities(channels)
		if err != nil {
			return nil, err
		}
		p.Channels = list
	default:
		return nil, ErrNoChannels
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// flattenEntities extracts channels from an entity-store envelope in the
// order given by "ids". Without ids the entity order in the document is
// used.
func flattenEntities(envelope gjson.Result) ([]channel.Channel, error) {
	entities := envelope.Get("entities")
	byID := entities.Map()

	var order []string
	if ids := envelope.Get("ids"); ids.IsArray() {
		for _, id := range ids.Array() {
			order = append(order, id.String())
		}
	} else {
		entities.ForEach(func(key, _ gjson.Result) bool {
			order = append(order, key.String())
			return true
		})
	}

	list := make([]channel.Channel, 0, len(order))
	for _, id := range order {
		raw, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("legacy envelope lists unknown id %q", id)
		}
		var c channel.Channel
		if err := json.Unmarshal([]byte(raw.Raw), &c); err != nil {
			return nil, fmt.Errorf("decode channel %q: %w", id, err)
		}
		if c.ID == "" {
			c.ID = id
		}
		list = append(list, c)
	}
	return list, nil
}

// Validate checks every channel and identifier uniqueness.
func (p *Project) Validate() error {
	seen := make(map[string]bool, len(p.Channels))
	for i := range p.Channels {
		c := &p.Channels[i]
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

// Channel returns the channel with the given id.
func (p *Project) Channel(id string) (channel.Channel, bool) {
	for _, c := range p.Channels {
		if c.ID == id {
			return c, true
		}
	}
	return channel.Channel{}, false
}

// Active returns the channels that take part in group operations, in
// project order.
func (p *Project) Active() []channel.Channel {
	var out []channel.Channel
	for _, c := range p.Channels {
		if c.Active {
			out = append(out, c)
		}
	}
	return out
}

// IDs returns every channel id in project order.
func (p *Project) IDs() []string {
	ids := make([]string, len(p.Channels))
	for i, c := range p.Channels {
		ids[i] = c.ID
	}
	return ids
}
