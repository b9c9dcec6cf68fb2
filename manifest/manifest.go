// Package manifest reads and writes the project manifest (composer.json):
// direct dependencies, autoload configuration, and any other top-level
// fields the project author wrote, whose values are preserved through a
// round trip (re-indented, with top-level keys written in sorted order)
// even though this tool never interprets them.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// PackageName is a vendor-qualified dependency name, "vendor/package".
type PackageName = string

// VersionConstraint is a human-written constraint expression understood by
// the version package (caret, tilde, comparison, exact, wildcard, "||").
type VersionConstraint = string

// AutoloadConfig is the subset of the autoload block this tool reads: the
// PSR-4 namespace-to-directory map. Classmap/PSR-0 autoloading is left to
// the external autoload emitter.
type AutoloadConfig struct {
	PSR4 map[string]string `json:"psr-4,omitempty"`
}

// Manifest is the parsed project manifest. Require is the only field the
// resolver consumes; RequireDev is round-tripped but never resolved.
// Extra holds every top-level field this type does not model explicitly,
// so a rewrite (from add/remove) never silently drops project-author
// content.
type Manifest struct {
	Name        string                            `json:"name,omitempty"`
	Description string                            `json:"description,omitempty"`
	Require     map[PackageName]VersionConstraint `json:"require"`
	RequireDev  map[PackageName]VersionConstraint `json:"require-dev,omitempty"`
	Autoload    AutoloadConfig                    `json:"autoload,omitempty"`
	Extra       map[string]json.RawMessage        `json:"-"`

	// requireOrder preserves the key order "require" appeared in on disk,
	// so the resolver's traversal order matches the project author's
	// written order rather than Go's randomized map iteration.
	requireOrder []string
}

// Requirement is one direct dependency, in manifest order.
type Requirement struct {
	Name       PackageName
	Constraint VersionConstraint
}

// OrderedRequire returns m.Require as a slice in the order "require" keys
// appeared in the source manifest (or insertion order, for a manifest
// built in memory via Add). Names with no recorded order are appended
// last, sorted for determinism.
func (m *Manifest) OrderedRequire() []Requirement {
	seen := make(map[string]bool, len(m.requireOrder))
	out := make([]Requirement, 0, len(m.Require))
	for _, name := range m.requireOrder {
		constraint, ok := m.Require[name]
		if !ok {
			continue
		}
		out = append(out, Requirement{Name: name, Constraint: constraint})
		seen[name] = true
	}
	var rest []string
	for name := range m.Require {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, Requirement{Name: name, Constraint: m.Require[name]})
	}
	return out
}

var knownFields = map[string]bool{
	"name":        true,
	"description": true,
	"require":     true,
	"require-dev": true,
	"autoload":    true,
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes raw manifest JSON.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	m := &Manifest{
		Require: map[PackageName]VersionConstraint{},
		Extra:   map[string]json.RawMessage{},
	}

	if v, ok := raw["name"]; ok {
		json.Unmarshal(v, &m.Name)
	}
	if v, ok := raw["description"]; ok {
		json.Unmarshal(v, &m.Description)
	}
	if v, ok := raw["require"]; ok {
		json.Unmarshal(v, &m.Require)
		m.requireOrder, _ = objectKeyOrder(v)
	}
	if v, ok := raw["require-dev"]; ok {
		json.Unmarshal(v, &m.RequireDev)
	}
	if v, ok := raw["autoload"]; ok {
		json.Unmarshal(v, &m.Autoload)
	}

	for k, v := range raw {
		if knownFields[k] {
			continue
		}
		m.Extra[k] = v
	}

	return m, nil
}

// objectKeyOrder walks a JSON object's tokens to recover its key order,
// which encoding/json's map decoding otherwise discards.
func objectKeyOrder(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected non-string object key")
		}
		keys = append(keys, key)
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// AddRequire inserts or overwrites a direct dependency, recording it at
// the end of the traversal order if it is new.
func (m *Manifest) AddRequire(name PackageName, constraint VersionConstraint) {
	if _, exists := m.Require[name]; !exists {
		m.requireOrder = append(m.requireOrder, name)
	}
	m.Require[name] = constraint
}

// RemoveRequire deletes a direct dependency, if present.
func (m *Manifest) RemoveRequire(name PackageName) {
	delete(m.Require, name)
	for i, n := range m.requireOrder {
		if n == name {
			m.requireOrder = append(m.requireOrder[:i], m.requireOrder[i+1:]...)
			break
		}
	}
}

// Save pretty-prints the manifest back to path, preserving unrecognized
// top-level fields captured in Extra.
func (m *Manifest) Save(path string) error {
	data, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}
	return nil
}

// MarshalJSON renders the manifest as pretty-printed JSON, merging known
// fields with the preserved Extra fields.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}

	for k, v := range m.Extra {
		out[k] = v
	}

	put := func(key string, v any) error {
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = encoded
		return nil
	}

	if m.Name != "" {
		if err := put("name", m.Name); err != nil {
			return nil, err
		}
	}
	if m.Description != "" {
		if err := put("description", m.Description); err != nil {
			return nil, err
		}
	}
	if err := put("require", m.Require); err != nil {
		return nil, err
	}
	if len(m.RequireDev) > 0 {
		if err := put("require-dev", m.RequireDev); err != nil {
			return nil, err
		}
	}
	if len(m.Autoload.PSR4) > 0 {
		if err := put("autoload", m.Autoload); err != nil {
			return nil, err
		}
	}

	return json.MarshalIndent(out, "", "    ")
}
