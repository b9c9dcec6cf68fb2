// Package lockfile serializes and deserializes the resolved package set,
// composer.lock's known literal field names preserved exactly so the
// file interoperates with the wider ecosystem.
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/a-h/maestro/registry"
)

const readmeLine = "This file locks the dependencies of your project to a known state"

// Lockfile is the resolved, persisted package set.
type Lockfile struct {
	Readme      []string                  `json:"_readme"`
	ContentHash string                    `json:"content-hash"`
	Packages    []registry.PackageVersion `json:"packages"`
	PackagesDev []registry.PackageVersion `json:"packages-dev"`
}

// New builds a Lockfile around a freshly resolved package set.
// ContentHash is left as a placeholder: this tool does not read or check
// it.
func New(packages []registry.PackageVersion) *Lockfile {
	return &Lockfile{
		Readme:      []string{readmeLine},
		ContentHash: "TODO-hash-of-composer-json",
		Packages:    packages,
		PackagesDev: []registry.PackageVersion{},
	}
}

// Load reads and parses the lockfile at path.
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lockfile %s: %w", path, err)
	}
	var l Lockfile
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse lockfile %s: %w", path, err)
	}
	return &l, nil
}

// Save pretty-prints the lockfile to path.
func (l *Lockfile) Save(path string) error {
	data, err := json.MarshalIndent(l, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode lockfile: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write lockfile %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a lockfile is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
