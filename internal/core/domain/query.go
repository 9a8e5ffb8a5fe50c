package domain

// SearchFilter narrows retrieval to a project and/or a single document.
type SearchFilter struct {
	ProjectID  string `json:"project_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// Query is the immutable per-request value produced by the normalizer.
// Fingerprint is the cache key: a stable hash of the normalized text, the
// filters and the retrieval config version, so any change to tuning
// parameters invalidates old cache entries naturally.
type Query struct {
	Raw         string
	Normalized  string
	Terms       []string
	Filter      SearchFilter
	Fingerprint string
}
