package task

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Context is the ordered step-key map a unit of work threads its
// intermediate artifacts through. Keys keep insertion order so readers see
// the steps in the order they ran; setting an existing key overwrites its
// value in place. Entries are never removed during execution — only a
// retry-reset may discard the whole map, and ours deliberately does not.
type Context struct {
	keys   []string
	values map[string]any
}

// NewContext returns an empty shared context.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

// Set stores value under key, appending the key on first use.
func (c *Context) Set(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Get reads the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	if c == nil || c.values == nil {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}

// Len reports the number of stored keys.
func (c *Context) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Keys returns the stored keys in insertion order.
func (c *Context) Keys() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Snapshot copies the current entries into a plain map. The copy is shallow:
// it freezes which keys exist and which values they point at, matching what
// a failure report needs.
func (c *Context) Snapshot() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(c.keys))
	for _, k := range c.keys {
		out[k] = c.values[k]
	}
	return out
}

// MarshalJSON writes the entries as a JSON object in insertion order.
func (c *Context) MarshalJSON() ([]byte, error) {
	if c == nil || len(c.keys) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(c.values[key])
		if err != nil {
			return nil, fmt.Errorf("marshal context key %q: %w", key, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON rebuilds the context from a JSON object, keeping the
// document's key order.
func (c *Context) UnmarshalJSON(data []byte) error {
	c.keys = nil
	c.values = make(map[string]any)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode shared context: %w", err)
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("decode shared context: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode shared context key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decode shared context: non-string key %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode shared context value for %q: %w", key, err)
		}
		c.Set(key, value)
	}
	return nil
}
