package models

// TrackView is the caller-facing projection of a Track. Fields hidden by
// the access policy are left empty and omitted from JSON.
type TrackView struct {
	Name          string   `json:"name,omitempty"`
	Artists       []string `json:"artists,omitempty"`
	SpotifyID     string   `json:"spotify_id,omitempty"`
	RecordingMBID string   `json:"recording_mbid,omitempty"`
	ISRC          string   `json:"isrc,omitempty"`
	ReleaseDate   string   `json:"release_date"`
	Genre         string   `json:"genre"`
}

// BundleView is the caller-facing projection of a Bundle with derived fields attached.
type BundleView struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Price        float64     `json:"price"`
	Free         bool        `json:"free"`
	YearSpan     string      `json:"yearSpan"`
	UniqueGenres []string    `json:"uniqueGenres"`
	Purchased    bool        `json:"purchased"`
	Locked       bool        `json:"locked"`
	Tracks       []TrackView `json:"tracks"`
}
