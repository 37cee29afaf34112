// Package analytics records what the engine does: every search and every
// document addition or removal becomes an event that is aggregated in
// process and, when Kafka is configured, published for downstream consumers.
package analytics

import "time"

type EventType string

const (
	EventSearch         EventType = "search"
	EventIndexDocument  EventType = "index_document"
	EventRemoveDocument EventType = "remove_document"
)

// SearchEvent summarises one FindMatches call.
type SearchEvent struct {
	Type         EventType `json:"type"`
	Query        string    `json:"query"`
	Participants int       `json:"participants"`
	Candidates   int       `json:"candidates"`
	Matches      int       `json:"matches"`
	CacheHits    int       `json:"cache_hits"`
	Cancelled    bool      `json:"cancelled"`
	Failed       bool      `json:"failed"`
	LatencyMs    int64     `json:"latency_ms"`
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id,omitempty"`
}

// IndexEvent summarises one addition or removal job.
type IndexEvent struct {
	Type      EventType `json:"type"`
	Location  string    `json:"location"`
	Path      string    `json:"path"`
	Family    string    `json:"family,omitempty"`
	OK        bool      `json:"ok"`
	Moot      bool      `json:"moot,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// envelope carries either event kind on the wire so consumers can decode
// without guessing.
type envelope struct {
	Type   EventType    `json:"type"`
	Search *SearchEvent `json:"search,omitempty"`
	Index  *IndexEvent  `json:"index,omitempty"`
}

// Tracker receives events. Implementations must not block.
type Tracker interface {
	TrackSearch(ev SearchEvent)
	TrackIndex(ev IndexEvent)
}

// Multi fans events out to every non-nil tracker.
func Multi(trackers ...Tracker) Tracker {
	out := make(multi, 0, len(trackers))
	for _, t := range trackers {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

type multi []Tracker

func (m multi) TrackSearch(ev SearchEvent) {
	for _, t := range m {
		t.TrackSearch(ev)
	}
}

func (m multi) TrackIndex(ev IndexEvent) {
	for _, t := range m {
		t.TrackIndex(ev)
	}
}
