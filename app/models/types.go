package models

import "time"

// Post is a single entry of the community feed. Posts are created once and
// never edited or deleted.
type Post struct {
	ID          string    `json:"id" validate:"required"`
	Title       string    `json:"title,omitempty" validate:"max=200"`
	Content     string    `json:"content" validate:"nonblank,max=10000"`
	AuthorID    string    `json:"authorId" validate:"nonblank"`
	AuthorEmail string    `json:"authorEmail"`
	CreatedAt   time.Time `json:"createdAt" validate:"required"`
}

// Draft is the input of a submission. It carries no id and no timestamp;
// both are assigned by the store.
type Draft struct {
	AuthorID    string `json:"authorId" validate:"nonblank"`
	AuthorEmail string `json:"authorEmail"`
	Title       string `json:"title,omitempty" validate:"max=200"`
	Content     string `json:"content" validate:"nonblank,max=10000"`
}

// Identity is the authenticated user as reported by the identity provider.
// Email is nil when the account has no email address.
type Identity struct {
	ID    string  `json:"id"`
	Email *string `json:"email"`
}
