package model

import "time"

// ItemKind distinguishes single cards from sealed product.
type ItemKind string

const (
	KindCard   ItemKind = "card"
	KindSealed ItemKind = "sealed"
)

// Item is a tradeable collectible. Items are deactivated, never deleted.
type Item struct {
	ID          string    `json:"item_id"`
	Kind        ItemKind  `json:"kind"`
	Name        string    `json:"name,omitempty"`
	Tier        string    `json:"tier"`
	ReleaseDate time.Time `json:"release_date"`
	Eligible    bool      `json:"eligible"`
}

// AgeDays returns whole days between release and asOf. Unknown release dates report -1.
func (i Item) AgeDays(asOf time.Time) int {
	if i.ReleaseDate.IsZero() {
		return -1
	}
	return DaysBetween(i.ReleaseDate, asOf)
}
