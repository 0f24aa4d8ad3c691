package repositories

import (
	"context"
	"log/slog"
	"time"

	"classicboard/app/docstore"
	"classicboard/app/models"
)

// PostsCollection is the collection holding all posts.
const PostsCollection = "posts"

// Record field names of a stored post.
const (
	FieldTitle       = "title"
	FieldContent     = "content"
	FieldAuthorID    = "authorId"
	FieldAuthorEmail = "authorEmail"
	FieldCreatedAt   = "createdAt"
)

// postRecord is the flat stored shape of a post.
type postRecord struct {
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	AuthorID    string    `json:"authorId"`
	AuthorEmail string    `json:"authorEmail"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DocPostRepository implements PostRepository on a document store
type DocPostRepository struct {
	store      docstore.Store
	collection string
	logger     *slog.Logger
}

// NewDocPostRepository creates a repository over the posts collection
func NewDocPostRepository(store docstore.Store, logger *slog.Logger) *DocPostRepository {
	return &DocPostRepository{store: store, collection: PostsCollection, logger: logger}
}

// Create appends the draft as a new post. The creation time is left to the
// store.
func (r *DocPostRepository) Create(ctx context.Context, draft models.Draft) (string, error) {
	fields := docstore.Fields{
		FieldContent:     draft.Content,
		FieldAuthorID:    draft.AuthorID,
		FieldAuthorEmail: draft.AuthorEmail,
		FieldCreatedAt:   docstore.ServerTimestamp,
	}
	if draft.Title != "" {
		fields[FieldTitle] = draft.Title
	}
	return r.store.Add(ctx, r.collection, fields)
}

// Watch delivers every post, newest first, after each change.
func (r *DocPostRepository) Watch(onPosts func([]*models.Post), onError func(error)) Canceler {
	q := docstore.Query{Collection: r.collection, OrderBy: FieldCreatedAt, Descending: true}
	return r.store.Watch(q, func(snap docstore.Snapshot) {
		onPosts(r.decode(snap))
	}, onError)
}

// decode maps a snapshot to posts. Records that do not form a valid post are
// skipped.
func (r *DocPostRepository) decode(snap docstore.Snapshot) []*models.Post {
	posts := make([]*models.Post, 0, len(snap.Docs))
	for i := range snap.Docs {
		doc := &snap.Docs[i]
		var rec postRecord
		if err := doc.DataTo(&rec); err != nil {
			r.logger.Warn("Skipping undecodable post", "id", doc.ID, "error", err)
			continue
		}
		post := &models.Post{
			ID:          doc.ID,
			Title:       rec.Title,
			Content:     rec.Content,
			AuthorID:    rec.AuthorID,
			AuthorEmail: rec.AuthorEmail,
			CreatedAt:   rec.CreatedAt,
		}
		if err := post.Validate(); err != nil {
			r.logger.Warn("Skipping invalid post", "id", doc.ID, "error", err)
			continue
		}
		posts = append(posts, post)
	}
	return posts
}
