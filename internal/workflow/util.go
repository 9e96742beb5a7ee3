package workflow

import (
	"github.com/AI-static/Aether/internal/task"
)

// Params and shared-context values arrive through JSON, so numbers are
// float64 and lists are []any; the readers below tolerate both the decoded
// and the native shapes.

func stringParam(params map[string]any, key, def string) string {
	if params == nil {
		return def
	}
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func stringListParam(params map[string]any, key string) []string {
	if params == nil {
		return nil
	}
	return toStrings(params[key])
}

func toStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toMaps(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func contextStrings(t *task.Task, key string) ([]string, bool) {
	v, ok := t.SharedContext.Get(key)
	if !ok {
		return nil, false
	}
	out := toStrings(v)
	return out, out != nil
}

func contextMaps(t *task.Task, key string) ([]map[string]any, bool) {
	v, ok := t.SharedContext.Get(key)
	if !ok {
		return nil, false
	}
	out := toMaps(v)
	return out, out != nil
}

func contextMap(t *task.Task, key string) (map[string]any, bool) {
	v, ok := t.SharedContext.Get(key)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func contextString(t *task.Task, key string) (string, bool) {
	v, ok := t.SharedContext.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func contextBool(t *task.Task, key string) bool {
	v, ok := t.SharedContext.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// stageContext writes a shared-context key without persisting; the caller
// folds it into its next executor write so the two land atomically.
func stageContext(t *task.Task, key string, value any) {
	if t.SharedContext == nil {
		t.SharedContext = task.NewContext()
	}
	t.SharedContext.Set(key, value)
}

// stepLogged reports whether a replay already logged the step on an earlier
// pass; logs are append-only history and skipped steps stay logged once.
func stepLogged(t *task.Task, step int) bool {
	for _, entry := range t.Logs {
		if entry.Step == step {
			return true
		}
	}
	return false
}

// numberField coerces a numeric payload field; extraction output mixes ints,
// floats, and numeric strings depending on which extraction path produced it.
func numberField(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// engagement reads the like count from either the flat search-hit shape or
// the nested note-detail shape.
func engagement(m map[string]any) float64 {
	if n := numberField(m, "liked_count"); n > 0 {
		return n
	}
	if interact, ok := m["interact_info"].(map[string]any); ok {
		return numberField(interact, "liked_count")
	}
	return 0
}

// itemURL reads the canonical URL of a hit or note, tolerating both field
// spellings the extraction schemas produce.
func itemURL(m map[string]any) string {
	if s, ok := m["url"].(string); ok && s != "" {
		return s
	}
	if s, ok := m["full_url"].(string); ok && s != "" {
		return s
	}
	return ""
}

func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
