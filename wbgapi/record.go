package wbgapi

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Record is a single JSON object returned by the API.
type Record map[string]interface{}

// Str returns the field as a string, or "" when it is missing.
func (r Record) Str(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func (r Record) ID() string {
	return r.Str("id")
}

func (r Record) Value() string {
	return r.Str("value")
}

const (
	// All is the wildcard id accepted by every list endpoint.
	All = "all"

	idSeparator = ";"
)

// QueryParam turns a list of ids into the path parameter of a list endpoint.
// Each id is escaped as a path segment. No ids, or any "all" among them, selects everything.
func QueryParam(ids ...string) string {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if strings.EqualFold(id, All) {
			return All
		}
		cleaned = append(cleaned, url.PathEscape(id))
	}
	if len(cleaned) == 0 {
		return All
	}
	return strings.Join(cleaned, idSeparator)
}

// ParseDB coerces a textual database id to its canonical integer form.
// An empty string selects DefaultDatabase.
func ParseDB(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultDatabase, nil
	}
	db, err := strconv.Atoi(s)
	if err != nil || db < 0 {
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidDatabase)
	}
	return db, nil
}
