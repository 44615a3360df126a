package domain

import (
	"slices"
	"time"
)

// Comment is a community comment. Only Likes and LikeCount change after
// creation.
type Comment struct {
	ID          string
	Text        string
	AuthorID    string
	AuthorName  string
	AuthorEmail string
	Timestamp   time.Time
	Likes       []string
	LikeCount   int
}

// LikedBy reports whether identityID is in the like set.
func (c Comment) LikedBy(identityID string) bool {
	if identityID == "" {
		return false
	}
	return slices.Contains(c.Likes, identityID)
}

// RenderedComment is a comment as shown to one viewer.
type RenderedComment struct {
	Comment
	Liked bool
}

// LikeUpdate is a like-set change written together with a like count that
// the caller computed from an earlier read.
type LikeUpdate struct {
	IdentityID string
	// Add puts IdentityID into the set; false removes it.
	Add   bool
	Count int
}
