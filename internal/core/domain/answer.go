package domain

import "time"

// Citation points a statement in the answer back to retrieved evidence.
type Citation struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
}

// Answer is the final pipeline output.
type Answer struct {
	Text      string        `json:"text"`
	Citations []Citation    `json:"citations"`
	Grounded  bool          `json:"grounded"`
	FromCache bool          `json:"from_cache"`
	Degraded  []Backend     `json:"degraded_backends,omitempty"`
	Latency   time.Duration `json:"-"`
}

// CachedAnswer is the payload stored per query fingerprint. Only grounded
// answers are cached: an ungrounded result may become answerable after the
// next ingestion, so caching it would pin the failure.
type CachedAnswer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
	CreatedAt time.Time  `json:"created_at"`
}

// QueryLogEntry records one answered request for offline analysis.
type QueryLogEntry struct {
	ID          string
	Question    string
	Fingerprint string
	Grounded    bool
	FromCache   bool
	Citations   int
	Latency     time.Duration
	CreatedAt   time.Time
}
