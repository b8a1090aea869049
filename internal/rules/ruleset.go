// Package rules implements the versioned per-jurisdiction ruleset store that
// backs every downstream compliance decision.
package rules

import (
	"encoding/json"
	"strings"
)

// Ruleset is a nested, schema-free regulatory document for one jurisdiction.
// Required top-level fields (version, last_updated, changelog) are managed by
// the store; everything else is an arbitrary tree addressable by dot-path.
type Ruleset map[string]interface{}

// ChangelogCap bounds the number of applied-change records kept per ruleset.
const ChangelogCap = 20

// Version returns the ruleset's version string, or "" when unset.
func (r Ruleset) Version() string {
	if v, ok := r["version"].(string); ok {
		return v
	}
	return ""
}

// Changelog returns the applied-change records, oldest first.
func (r Ruleset) Changelog() []interface{} {
	if c, ok := r["changelog"].([]interface{}); ok {
		return c
	}
	return nil
}

// Clone returns a deep copy so callers can hold an immutable snapshot while
// the store applies patches underneath.
func (r Ruleset) Clone() Ruleset {
	if r == nil {
		return Ruleset{}
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return Ruleset{}
	}
	var out Ruleset
	if err := json.Unmarshal(raw, &out); err != nil {
		return Ruleset{}
	}
	return out
}

// ReadPath traverses a dot-path into the ruleset. A missing segment returns
// (nil, false), never an error.
func ReadPath(r Ruleset, path string) (interface{}, bool) {
	if r == nil || path == "" {
		return nil, false
	}
	var node interface{} = map[string]interface{}(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		node, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// WritePath sets a value at a dot-path, creating intermediate nodes as needed.
// A non-map intermediate is replaced; the reasoner may propose paths into
// subtrees that do not exist yet.
func WritePath(r Ruleset, path string, value interface{}) {
	parts := strings.Split(path, ".")
	node := map[string]interface{}(r)
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			node[part] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
}
