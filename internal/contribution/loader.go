package contribution

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk shape consumed by LoadFile. It expects the
// fully-resolved form: placeholder interpolation and secret decryption
// happen upstream of this engine.
type Document struct {
	Version       int            `yaml:"version"`
	Contributions []Contribution `yaml:"contributions"`
}

// LoadDocument reads a resolved contribution document without building a
// registry, so callers can merge contributions across manifests first.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("contribution: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("contribution: parse document: %w", err)
	}
	if doc.Version != 0 && doc.Version != 1 {
		return Document{}, fmt.Errorf("contribution: unsupported document version %d", doc.Version)
	}
	for _, c := range doc.Contributions {
		for _, unit := range c.Goals {
			if err := unit.Validate(); err != nil {
				return Document{}, fmt.Errorf("contribution %q: %w", c.Name, err)
			}
		}
	}
	return doc, nil
}

// LoadFile reads a resolved contribution document and builds a registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("contribution: read %s: %w", path, err)
	}
	return Load(data)
}

// Load builds a registry from resolved YAML bytes.
func Load(data []byte) (*Registry, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("contribution: parse document: %w", err)
	}
	if doc.Version != 0 && doc.Version != 1 {
		return nil, fmt.Errorf("contribution: unsupported document version %d", doc.Version)
	}
	for _, c := range doc.Contributions {
		for _, unit := range c.Goals {
			if err := unit.Validate(); err != nil {
				return nil, fmt.Errorf("contribution %q: %w", c.Name, err)
			}
		}
	}
	return NewRegistry(doc.Contributions)
}
