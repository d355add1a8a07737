package sfsmonitor

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v2"
)

// Config declares a watch set and ceiling for a Monitor.
type Config struct {
	// MaxMonitored is the admission ceiling. Zero means DefaultMaxMonitored.
	MaxMonitored int `yaml:"max-monitored"`

	// Paths lists the paths to watch.
	Paths []PathConfig `yaml:"paths"`
}

// PathConfig configures one watched path.
type PathConfig struct {
	Path string `yaml:"path"`

	// Events holds flag names from the event vocabulary ("write",
	// "size-increase", ...). Empty means all events.
	Events []string `yaml:"events"`
}

// DefaultConfig returns a config with default settings.
func DefaultConfig() Config {
	return Config{MaxMonitored: DefaultMaxMonitored}
}

// ParseConfig reads a YAML config. Unknown fields are rejected.
func ParseConfig(r io.Reader) (Config, error) {
	config := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.SetStrict(true)
	if err := dec.Decode(&config); err != nil && err != io.EOF {
		return config, err
	}

	if config.MaxMonitored <= 0 {
		config.MaxMonitored = DefaultMaxMonitored
	}
	for _, pc := range config.Paths {
		if pc.Path == "" {
			return config, fmt.Errorf("config: path required")
		}
		if _, err := pc.EventMask(); err != nil {
			return config, fmt.Errorf("config: path %s: %w", pc.Path, err)
		}
	}

	return config, nil
}

// EventMask returns the mask selected by the Events list, or AllEvents when
// the list is empty.
func (c PathConfig) EventMask() (EventMask, error) {
	if len(c.Events) == 0 {
		return AllEvents, nil
	}
	return ParseEventMask(c.Events)
}

// ApplyConfig sets the ceiling and adds every configured path. Paths already
// watched are skipped, so applying a config is idempotent. The first other
// admission error aborts the apply.
func (m *Monitor) ApplyConfig(config Config) error {
	if config.MaxMonitored > 0 {
		m.SetMaxMonitored(config.MaxMonitored)
	}

	for _, pc := range config.Paths {
		mask, err := pc.EventMask()
		if err != nil {
			return err
		}
		if err := m.Add(pc.Path, mask); err != nil && !errors.Is(err, ErrAlreadyWatched) {
			return err
		}
	}
	return nil
}
