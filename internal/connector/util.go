package connector

// ItemsField pulls a list-of-objects field out of an extraction payload.
// Entries that are not objects are dropped.
func ItemsField(data map[string]any, key string) []map[string]any {
	raw, ok := data[key].([]any)
	if !ok {
		return nil
	}
	items := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if m, ok := entry.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items
}

// ClampItems truncates items to limit. A limit of zero or less keeps all.
func ClampItems(items []map[string]any, limit int) []map[string]any {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// StringField reads a string field from a payload, tolerating nil maps and
// non-string values.
func StringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
