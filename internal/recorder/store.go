package recorder

import (
	"fmt"
	"sync"
	"time"
)

// Take is one finalised recording held in memory for the session.
type Take struct {
	// Filename follows the pattern harmonylab-<timestamp>.<extension>.
	Filename string `json:"filename"`

	// URL is the download path for this take.
	URL string `json:"url"`

	MIME     string        `json:"mime"`
	Duration time.Duration `json:"duration"`
	Created  time.Time     `json:"created"`

	Data []byte `json:"-"`
}

// TakeStore retains at most one take; storing a new one releases the
// previous. Nothing survives process restart.
type TakeStore struct {
	mu   sync.Mutex
	take *Take
}

// NewTakeStore returns an empty store.
func NewTakeStore() *TakeStore {
	return &TakeStore{}
}

// Put stores a finalised take, superseding any previous one, and returns it.
func (ts *TakeStore) Put(data []byte, extension, mime string, duration time.Duration) *Take {
	now := time.Now()
	take := &Take{
		Filename: fmt.Sprintf("harmonylab-%s.%s", now.Format("20060102-150405"), extension),
		URL:      "/takes/latest",
		MIME:     mime,
		Duration: duration,
		Created:  now,
		Data:     data,
	}

	ts.mu.Lock()
	ts.take = take
	ts.mu.Unlock()
	return take
}

// Latest returns the current take, or false when none exists.
func (ts *TakeStore) Latest() (*Take, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.take == nil {
		return nil, false
	}
	return ts.take, true
}
