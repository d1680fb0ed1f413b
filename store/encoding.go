package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayout is the on-disk timestamp format. It is UTC and understood by SQLite's
// date functions (julianday, date).
const timeLayout = "2006-01-02 15:04:05.000000"

// FormatTime renders t in the storage layout.
func FormatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

// ParseTime parses a timestamp written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// inputLayouts are the timestamp forms accepted from callers.
var inputLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseInputTime parses a caller-supplied timestamp. Values without a zone are
// taken as UTC.
func ParseInputTime(s string) (time.Time, error) {
	for _, layout := range inputLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// NullTime converts an optional time to a driver value.
func NullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// ScanNullTime converts a nullable column back into an optional time.
func ScanNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// JSON marshals v for a TEXT column. Values stored here are plain data structs, so a
// marshal failure is a programming error and is reported as such.
func JSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(b), nil
}

// FromJSON unmarshals a TEXT column into v. Empty columns leave v untouched.
func FromJSON(s string, v any) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

// NewID returns an identifier of the form {prefix}_{YYYYMMDD_HHMMSS_micro}_{hex8}.
// Uniqueness is practical rather than guaranteed: two ids collide only when they share
// a microsecond and 32 random bits.
func NewID(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%06d_%s", prefix, now.Format("20060102_150405"), now.Nanosecond()/1000, suffix)
}
