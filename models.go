package main

import (
	"bytes"
	"time"

	"github.com/pkg/errors"
)

// Post is the backend's post resource. A zero ID marks a draft that does
// not exist server-side yet.
type Post struct {
	ID        int64      `json:"id,omitempty"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	UpdatedAt *Timestamp `json:"updatedAt,omitempty"`
	CreatedAt *Timestamp `json:"createdAt,omitempty"`
}

func (p Post) IsDraft() bool {
	return p.ID == 0
}

type Session struct {
	Token       string    `json:"token"`
	UserID      int       `json:"user_id"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Timestamp is a time.Time that also accepts the date-only and zone-less
// forms some backends emit.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.Errorf("timestamp: expected string, got %s", data)
	}
	s := string(data[1 : len(data)-1])

	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			ts.Time = t
			return nil
		}
	}
	return errors.Errorf("timestamp: unrecognized format %q", s)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + ts.Time.Format(time.RFC3339Nano) + `"`), nil
}
