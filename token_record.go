package gate

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	// TokenStorageKey is the local storage key holding the backend token
	TokenStorageKey = "access-token"

	// DefaultTokenTTL is how long a persisted token record stays valid
	DefaultTokenTTL = 24 * time.Hour
)

// TokenRecord is the persisted form of the backend access token:
// {"value": "...", "timestamp": <epoch millis>}
type TokenRecord struct {
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// NewTokenRecord stamps value with now
func NewTokenRecord(value string, now time.Time) TokenRecord {
	return TokenRecord{
		Value:     value,
		Timestamp: now.UnixMilli(),
	}
}

// IssuedAt returns the record timestamp as time
func (r TokenRecord) IssuedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Expired reports whether more than ttl elapsed since the record was written
func (r TokenRecord) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.IssuedAt()) > ttl
}

// Encode serializes the record for storage
func (r TokenRecord) Encode() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ParseTokenRecord decodes a stored record. Empty values or records without
// a timestamp are rejected.
func ParseTokenRecord(raw string) (TokenRecord, error) {
	var record TokenRecord
	if strings.TrimSpace(raw) == "" {
		return record, ErrTokenRecordMalformed
	}

	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return TokenRecord{}, WrapError(ErrTokenRecordMalformed, err, nil)
	}

	if record.Value == "" || record.Timestamp <= 0 {
		return TokenRecord{}, ErrTokenRecordMalformed
	}

	return record, nil
}
