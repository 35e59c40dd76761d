package registry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Register actions reported by the registry.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// FileMetadata is the body of a register call.
type FileMetadata struct {
	FileName         string    `json:"file_name"`
	AbsolutePath     string    `json:"absolute_path"`
	Device           string    `json:"device"`
	DeviceIP         string    `json:"device_ip"`
	DeviceUser       string    `json:"device_user"`
	LastModifiedTime Timestamp `json:"last_modified_time"`
	Size             int64     `json:"size"`
	FileType         string    `json:"file_type"`
}

// RegisterResult is the registry's answer to a register call.
type RegisterResult struct {
	ID       int64  `json:"file_id"`
	FileName string `json:"filename"`
	Message  string `json:"message"`
	Action   string `json:"action"`
}

// FileRecord is one registered file as returned by search, get and list.
type FileRecord struct {
	ID               int64     `json:"id"`
	FileName         string    `json:"file_name"`
	AbsolutePath     string    `json:"absolute_path"`
	Device           string    `json:"device"`
	DeviceIP         string    `json:"device_ip"`
	DeviceUser       string    `json:"device_user"`
	LastModifiedTime Timestamp `json:"last_modified_time"`
	CreatedTime      Timestamp `json:"created_time"`
	Size             int64     `json:"size"`
	FileType         string    `json:"file_type"`
}

// Stats summarizes the registry contents.
type Stats struct {
	TotalFiles     int64 `json:"total_files"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// Health is the body returned by the root endpoint.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// errorBody is the JSON shape of every registry error response.
type errorBody struct {
	Detail string `json:"detail"`
}

// timestampLayouts are accepted when decoding. Older registries emit naive
// ISO-8601 timestamps without a zone, which are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp is a time.Time that encodes as RFC 3339 in UTC and decodes any of
// timestampLayouts.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t, normalized to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("registry: timestamp: %w", err)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		ts.Time = time.Time{}
		return nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}

	return fmt.Errorf("registry: unrecognized timestamp %q", s)
}
