// Package roster loads the fleet's known-device list from a YAML file: the
// device ids and human labels an operator dashboard should show even when a
// device has never connected (or isn't connected right now). Unlike
// sessionmgr's in-memory session registry, the roster is the one piece of
// server state backed by a file, since it exists precisely to survive a
// restart that drops every session.
package roster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Device is one fleet member's static identity: its wire device id and a
// human-readable label for dashboards. Connection protocol and live state
// are owned by sessionmgr, not here.
type Device struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// Registry holds the full set of known devices, in file order.
type Registry struct {
	Devices []Device `yaml:"devices"`
}

// Load reads and parses a roster YAML file. A missing file is not an
// error — it is treated as an empty roster, since the roster is optional.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Registry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("roster: read %s: %w", path, err)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("roster: parse %s: %w", path, err)
	}
	return &reg, nil
}

// Save writes the registry back to path as YAML.
func (r *Registry) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("roster: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("roster: write %s: %w", path, err)
	}
	return nil
}

// Find returns the device with the given id, if known.
func (r *Registry) Find(id string) (Device, bool) {
	for _, d := range r.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// Upsert adds dev to the registry, or replaces the existing entry with the
// same id.
func (r *Registry) Upsert(dev Device) {
	for i, d := range r.Devices {
		if d.ID == dev.ID {
			r.Devices[i] = dev
			return
		}
	}
	r.Devices = append(r.Devices, dev)
}
