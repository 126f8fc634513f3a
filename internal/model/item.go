package model

import (
	"fmt"
	"time"
)

// Kind distinguishes the two listing types on a profile.
type Kind string

const (
	KindAttack  Kind = "attack"
	KindDefense Kind = "defense"
)

// ListingPath returns the profile listing path segment for the kind.
func (k Kind) ListingPath() string {
	if k == KindDefense {
		return "defenses"
	}
	return "attacks"
}

// Item is one attack or defense posting discovered from a subject's listing.
// Items are immutable once stored; identity is (Kind, ID) where ID is the
// origin-assigned numeric id.
type Item struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Subject     string    `json:"subject"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	URL         string    `json:"url"`
	OtherUser   string    `json:"other_user"`
	FetchedAt   time.Time `json:"fetched_at"`
	FirstSeen   time.Time `json:"first_seen"`
}

// FeedTitle returns the entry title used in feeds and notifications.
func (i Item) FeedTitle() string {
	return i.Title
}

// FeedDescription returns the entry body. The stored description is used
// when present; otherwise a summary line is synthesized the same way for
// attacks and defenses.
func (i Item) FeedDescription() string {
	if i.Description != "" {
		return i.Description
	}
	attacker, defender := i.Attacker(), i.Defender()
	switch i.Kind {
	case KindDefense:
		return fmt.Sprintf("`%s` attacked `%s` with '%s'.", attacker, defender, i.Title)
	default:
		return fmt.Sprintf("New attack: '%s' by `%s` on `%s`.", i.Title, attacker, defender)
	}
}

// Attacker returns the attacking username. For an attack listing the
// subject is the attacker; for a defense the other user is.
func (i Item) Attacker() string {
	if i.Kind == KindDefense {
		return i.OtherUser
	}
	return i.Subject
}

// Defender returns the defending username.
func (i Item) Defender() string {
	if i.Kind == KindDefense {
		return i.Subject
	}
	return i.OtherUser
}
