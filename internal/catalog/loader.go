package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"crate/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultReleaseDate = "1989-01-01"
	defaultGenre       = "Unknown"
	defaultArtist      = "Unknown Artist"

	// freeBundleCount bundles at the head of the catalog default to free when unpriced.
	freeBundleCount = 12
)

var defaultPaidPrice = decimal.NewFromInt(10)

type rawCatalog struct {
	Tracklists []rawBundle `json:"tracklists"`
}

type rawBundle struct {
	Name   string          `json:"name"`
	Price  json.RawMessage `json:"price"`
	Tracks []rawTrack      `json:"tracks"`
}

type rawTrack struct {
	Name          string          `json:"name"`
	Artists       []string        `json:"artists"`
	SpotifyID     string          `json:"spotify_id"`
	RecordingMBID string          `json:"recording_mbid"`
	ISRC          string          `json:"isrc"`
	ReleaseDate   string          `json:"release_date"`
	Genre         json.RawMessage `json:"genre"`
}

// Load reads and decrypts the catalog file at path. Any failure to read,
// decrypt or decode the file is reported as ErrDecryption.
func Load(path string, key []byte, opts Options, logger *logrus.Logger) (*Catalog, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	plaintext, err := Decrypt(blob, key)
	if err != nil {
		return nil, err
	}

	bundles, err := Parse(plaintext, logger)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"path":    path,
		"bundles": len(bundles),
	}).Info("Catalog loaded")

	return New(bundles, opts), nil
}

// Parse decodes the decrypted JSON document into normalized bundles. Bundle
// IDs follow the position in the source list ("set1", "set2", ...) so they
// stay stable when invalid entries are skipped.
func Parse(plaintext []byte, logger *logrus.Logger) ([]models.Bundle, error) {
	var raw rawCatalog
	if err := json.Unmarshal(plaintext, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid catalog document: %v", ErrDecryption, err)
	}

	bundles := make([]models.Bundle, 0, len(raw.Tracklists))
	for index, rb := range raw.Tracklists {
		id := fmt.Sprintf("set%d", index+1)
		log := logger.WithField("bundle_id", id)

		price, err := parsePrice(rb.Price, index)
		if err != nil {
			log.WithError(err).Warn("Skipping bundle with invalid price")
			continue
		}

		name := rb.Name
		if name == "" {
			name = fmt.Sprintf("#%d", index+1)
		}

		tracks := normalizeTracks(rb.Tracks, index, log)
		if len(tracks) == 0 {
			log.Warn("Skipping bundle with no tracks")
			continue
		}

		bundles = append(bundles, models.Bundle{
			ID:     id,
			Name:   name,
			Price:  price,
			Tracks: tracks,
		})
	}

	return bundles, nil
}

func parsePrice(raw json.RawMessage, index int) (decimal.Decimal, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" || strings.HasPrefix(text, `"`) {
		if index < freeBundleCount {
			return decimal.Zero, nil
		}
		return defaultPaidPrice, nil
	}

	price, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price %q: %w", text, err)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("price %s is negative", price)
	}
	return price, nil
}

func normalizeTracks(raw []rawTrack, bundleIndex int, log *logrus.Entry) []models.Track {
	seen := make(map[string]bool, len(raw))
	tracks := make([]models.Track, 0, len(raw))

	for i, rt := range raw {
		if rt.Name == "" || seen[rt.Name] {
			log.WithField("track", rt.Name).Warn("Dropping duplicate or unnamed track")
			continue
		}
		seen[rt.Name] = true

		track := models.Track{
			Name:          rt.Name,
			Artists:       rt.Artists,
			SpotifyID:     rt.SpotifyID,
			RecordingMBID: rt.RecordingMBID,
			ISRC:          rt.ISRC,
			ReleaseDate:   rt.ReleaseDate,
			Genre:         firstGenre(rt.Genre),
		}
		if len(track.Artists) == 0 {
			track.Artists = []string{defaultArtist}
		}
		if track.SpotifyID == "" {
			track.SpotifyID = fmt.Sprintf("spotify_%d_%d", bundleIndex+1, i)
		}
		if track.RecordingMBID == "" {
			track.RecordingMBID = fmt.Sprintf("mbid_%d_%d", bundleIndex+1, i)
		}
		if track.ISRC == "" {
			track.ISRC = fmt.Sprintf("isrc_%d_%d", bundleIndex+1, i)
		}
		if !validReleaseDate(track.ReleaseDate) {
			track.ReleaseDate = defaultReleaseDate
		}

		tracks = append(tracks, track)
	}

	return tracks
}

// firstGenre accepts either a list of genres or a single string.
func firstGenre(raw json.RawMessage) string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 && list[0] != "" {
			return list[0]
		}
		return defaultGenre
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single
	}
	return defaultGenre
}

func validReleaseDate(date string) bool {
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if _, err := time.Parse(layout, date); err == nil {
			return true
		}
	}
	return false
}
