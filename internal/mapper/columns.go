package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/store"
)

// envelope is the versioned wrapper around every JSON column.
type envelope struct {
	V     int             `json:"v"`
	Items json.RawMessage `json:"items"`
}

// timeLayouts are tried in order when parsing text timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func text(row store.Row, col string) (string, bool) {
	switch v := row[col].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

func stringCol(row store.Row, col, def string) string {
	if s, ok := text(row, col); ok {
		return s
	}
	return def
}

func intCol(row store.Row, col string, def int) int {
	switch v := row[col].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string, []byte:
		s, _ := text(row, col)
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func int64Col(row store.Row, col string) int64 {
	if v, ok := row[col].(int64); ok {
		return v
	}
	return int64(intCol(row, col, 0))
}

func boolCol(row store.Row, col string) bool {
	switch v := row[col].(type) {
	case bool:
		return v
	case string, []byte:
		s, _ := text(row, col)
		b, err := strconv.ParseBool(s)
		return err == nil && b
	default:
		return intCol(row, col, 0) != 0
	}
}

func timePtrCol(row store.Row, col string) *time.Time {
	if t, ok := row[col].(time.Time); ok {
		return &t
	}
	s, ok := text(row, col)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func timeCol(row store.Row, col string, def time.Time) time.Time {
	if t := timePtrCol(row, col); t != nil {
		return *t
	}
	return def
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// encodeColumn writes items as a canonical v1 envelope.
func encodeColumn(items any) string {
	data, err := domain.MarshalCanonical(map[string]any{"v": ColumnVersion, "items": items})
	if err != nil {
		// Only unsupported Go types fail here; every caller passes plain structs.
		panic(fmt.Sprintf("mapper: encode column: %v", err))
	}
	return string(data)
}

// decodeColumn parses a JSON column into out. It returns false (after
// logging) when the column is present but unusable, and false silently when
// the column is absent; callers keep their default in both cases.
func (m *Mapper) decodeColumn(row store.Row, col, schema string, out any) bool {
	raw, ok := text(row, col)
	if !ok {
		return false
	}
	raw = string(bytes.TrimSpace([]byte(raw)))
	if raw == "" || raw == "null" {
		return false
	}

	items := []byte(raw)
	if raw[0] == '{' {
		var env envelope
		if err := json.Unmarshal(items, &env); err != nil {
			m.warn(col, "decode envelope", err)
			return false
		}
		if env.V != ColumnVersion {
			m.warn(col, "unsupported column version", fmt.Errorf("v=%d", env.V))
			return false
		}
		if len(env.Items) == 0 || string(env.Items) == "null" {
			return false
		}
		items = env.Items
	}

	if err := m.schemas.validate(schema, items); err != nil {
		m.warn(col, "schema validation", err)
		return false
	}
	if err := json.Unmarshal(items, out); err != nil {
		m.warn(col, "decode items", err)
		return false
	}
	return true
}

func (m *Mapper) warn(col, what string, err error) {
	m.logger.Warn("malformed cached column, using default",
		"column", col,
		"problem", what,
		"error", err,
	)
}

func loginsOrEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

