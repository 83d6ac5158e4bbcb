// Package access decides which operations a caller may run and which bundle
// fields they may see.
package access

import (
	"errors"

	"crate/pkg/models"
)

// ErrUnauthenticated is returned when an operation needs a session identity
// and none was resolved.
var ErrUnauthenticated = errors.New("authentication required")

// Operation names checked at the boundary.
const (
	OpCart              = "cart"
	OpAddToCart         = "addToCart"
	OpAddAllToCart      = "addAllToCart"
	OpClearCart         = "clearCart"
	OpPurchaseTracklist = "purchaseTracklist"
	OpCheckout          = "checkout"
	OpConfirmCheckout   = "confirmCheckout"
	OpListPage          = "listPage"
	OpViewTracks        = "viewTracks"
	OpSetTheme          = "setTheme"
)

var protectedOps = map[string]bool{
	OpCart:              true,
	OpAddToCart:         true,
	OpAddAllToCart:      true,
	OpClearCart:         true,
	OpPurchaseTracklist: true,
	OpCheckout:          true,
	OpConfirmCheckout:   true,
	OpViewTracks:        true,
	OpSetTheme:          true,
}

// RequireUser fails with ErrUnauthenticated for an empty user ID.
func RequireUser(userID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// Protected reports whether op needs an authenticated caller.
func Protected(op string) bool {
	return protectedOps[op]
}

// Authorize combines Protected and RequireUser.
func Authorize(op, userID string) error {
	if Protected(op) {
		return RequireUser(userID)
	}
	return nil
}

// Viewer describes who is looking at a bundle.
type Viewer struct {
	UserID    string
	Purchased bool
}

// Authenticated reports whether the viewer holds a session identity.
func (v Viewer) Authenticated() bool {
	return v.UserID != ""
}

// ViewBundle projects a bundle for the viewer. Track names require a session;
// artists additionally require ownership. Name, price and derived fields are
// always visible.
func ViewBundle(b models.Bundle, viewer Viewer) models.BundleView {
	authenticated := viewer.Authenticated()
	owned := authenticated && viewer.Purchased

	tracks := make([]models.TrackView, 0, len(b.Tracks))
	for _, t := range b.Tracks {
		view := models.TrackView{
			ReleaseDate: t.ReleaseDate,
			Genre:       t.Genre,
		}
		if authenticated {
			view.Name = t.Name
		}
		if owned {
			view.Artists = append([]string(nil), t.Artists...)
			view.SpotifyID = t.SpotifyID
			view.RecordingMBID = t.RecordingMBID
			view.ISRC = t.ISRC
		}
		tracks = append(tracks, view)
	}

	price, _ := b.Price.Float64()
	return models.BundleView{
		ID:           b.ID,
		Name:         b.Name,
		Price:        price,
		Free:         b.IsFree(),
		YearSpan:     b.YearSpan(),
		UniqueGenres: b.UniqueGenres(),
		Purchased:    owned,
		Locked:       !owned,
		Tracks:       tracks,
	}
}

// ViewBundles projects a slice of bundles; purchased holds the viewer's owned IDs.
func ViewBundles(bundles []models.Bundle, userID string, purchased map[string]bool) []models.BundleView {
	views := make([]models.BundleView, 0, len(bundles))
	for _, b := range bundles {
		views = append(views, ViewBundle(b, Viewer{UserID: userID, Purchased: purchased[b.ID]}))
	}
	return views
}
