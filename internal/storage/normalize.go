package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NormalizeKey converts a key column value to its string form (e.g. "u-17"
// or "8429529"). Text keys are kept byte for byte. NULL and blank text map
// to "", which callers treat as a missing key.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return nonBlank(t)
	case []byte:
		return nonBlank(string(t))
	case int64:
		return fmt.Sprintf("%d", t)
	case int:
		return fmt.Sprintf("%d", t)
	case [16]byte:
		return uuid.UUID(t).String()
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return nonBlank(fmt.Sprint(v))
	}
}

func nonBlank(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

// NormalizeValue converts a driver value into something encoding/json renders
// the way a human reading the artifact expects.
//
//   - []byte becomes a string (sqlite TEXT columns may arrive as bytes)
//   - [16]byte becomes a canonical UUID string (postgres uuid)
//   - time.Time becomes an RFC3339Nano string in UTC
//
// Everything else is returned unchanged.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case [16]byte:
		return uuid.UUID(t).String()
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
