package repositories

import (
	"context"

	"classicboard/app/models"
)

// Canceler stops a live query.
type Canceler interface {
	Stop()
}

// PostRepository defines the data access the feed needs: append one post and
// watch the whole collection newest first.
type PostRepository interface {
	Create(ctx context.Context, draft models.Draft) (string, error)
	Watch(onPosts func([]*models.Post), onError func(error)) Canceler
}
