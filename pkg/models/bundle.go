package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultReleaseYear is used for year spans when no track carries a parseable date.
const DefaultReleaseYear = 1989

// Track represents a single track inside a bundle
type Track struct {
	Name          string   `json:"name"`
	Artists       []string `json:"artists"`
	SpotifyID     string   `json:"spotify_id"`
	RecordingMBID string   `json:"recording_mbid"`
	ISRC          string   `json:"isrc"`
	ReleaseDate   string   `json:"release_date"`
	Genre         string   `json:"genre"`
}

// ReleaseYear returns the year prefix of the release date, if it parses.
func (t Track) ReleaseYear() (int, bool) {
	if len(t.ReleaseDate) < 4 {
		return 0, false
	}
	year, err := strconv.Atoi(t.ReleaseDate[:4])
	if err != nil {
		return 0, false
	}
	return year, true
}

// Bundle is a named, priced collection of tracks (a "tracklist").
// Bundles are loaded once at startup and never mutated.
type Bundle struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Tracks []Track         `json:"tracks"`
}

// IsFree reports whether the bundle can be unlocked without payment.
func (b Bundle) IsFree() bool {
	return b.Price.IsZero()
}

// MinorUnits returns the price in integer cents, rounded half away from zero.
func (b Bundle) MinorUnits() int64 {
	return b.Price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// YearSpan renders the min/max release years as "1990-1999 (9 years)".
func (b Bundle) YearSpan() string {
	minYear, maxYear := 0, 0
	found := false
	for _, track := range b.Tracks {
		year, ok := track.ReleaseYear()
		if !ok {
			continue
		}
		if !found || year < minYear {
			minYear = year
		}
		if !found || year > maxYear {
			maxYear = year
		}
		found = true
	}
	if !found {
		minYear, maxYear = DefaultReleaseYear, DefaultReleaseYear
	}
	return fmt.Sprintf("%d-%d (%d years)", minYear, maxYear, maxYear-minYear)
}

// UniqueGenres returns the distinct non-empty genres in track order.
func (b Bundle) UniqueGenres() []string {
	seen := make(map[string]bool)
	genres := make([]string, 0)
	for _, track := range b.Tracks {
		if track.Genre == "" || seen[track.Genre] {
			continue
		}
		seen[track.Genre] = true
		genres = append(genres, track.Genre)
	}
	return genres
}

// Session is an anonymous browser session. UserID keys every ledger row.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Theme     string    `json:"theme"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PurchaseEntry records ownership of a bundle
type PurchaseEntry struct {
	UserID      string    `json:"userId"`
	BundleID    string    `json:"bundleId"`
	PurchasedAt time.Time `json:"purchasedAt"`
}
