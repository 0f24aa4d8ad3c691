package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"classicboard/app/docstore"
	"classicboard/app/models"
	"classicboard/app/repositories"
	"classicboard/app/repositories/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupBadgerRepo(t *testing.T) *repositories.DocPostRepository {
	db, err := docstore.OpenDB("", true)
	require.NoError(t, err)
	store := docstore.New(db, testLogger())
	t.Cleanup(func() {
		store.Close()
		db.Close()
	})
	return repositories.NewDocPostRepository(store, testLogger())
}

// feedRecorder collects deliveries of one subscription.
type feedRecorder struct {
	updates chan []*models.Post
	errs    chan error
}

func newFeedRecorder() *feedRecorder {
	return &feedRecorder{
		updates: make(chan []*models.Post, 64),
		errs:    make(chan error, 4),
	}
}

func (r *feedRecorder) onUpdate(posts []*models.Post) { r.updates <- posts }
func (r *feedRecorder) onError(err error)             { r.errs <- err }

func (r *feedRecorder) next(t *testing.T) []*models.Post {
	t.Helper()
	select {
	case posts := <-r.updates:
		return posts
	case err := <-r.errs:
		t.Fatalf("unexpected subscription error: %v", err)
	case <-time.After(waitTimeout):
		t.Fatal("no delivery")
	}
	return nil
}

func (r *feedRecorder) waitLen(t *testing.T, n int) []*models.Post {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case posts := <-r.updates:
			if len(posts) == n {
				return posts
			}
		case <-deadline:
			t.Fatalf("no delivery with %d posts", n)
		}
	}
}

func (r *feedRecorder) quiet(t *testing.T) {
	t.Helper()
	select {
	case posts := <-r.updates:
		t.Fatalf("unexpected delivery of %d posts", len(posts))
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("valid draft creates one post", func(t *testing.T) {
		repo := mock.NewPostRepository()
		svc := NewFeedService(repo, FeedOptions{}, testLogger())

		err := svc.Submit(ctx, models.Draft{AuthorID: "u1", AuthorEmail: "a@x.com", Content: "Hello"})
		require.NoError(t, err)
		assert.Equal(t, 1, repo.Creates)
		posts := repo.Posts()
		require.Len(t, posts, 1)
		assert.Equal(t, "Hello", posts[0].Content)
		assert.Equal(t, "a@x.com", posts[0].AuthorEmail)
	})

	t.Run("content is stored as given", func(t *testing.T) {
		repo := mock.NewPostRepository()
		svc := NewFeedService(repo, FeedOptions{}, testLogger())

		require.NoError(t, svc.Submit(ctx, models.Draft{AuthorID: "u1", Content: "  padded  "}))
		assert.Equal(t, "  padded  ", repo.Posts()[0].Content)
	})

	t.Run("empty email becomes anonymous", func(t *testing.T) {
		repo := mock.NewPostRepository()
		svc := NewFeedService(repo, FeedOptions{}, testLogger())

		require.NoError(t, svc.Submit(ctx, models.Draft{AuthorID: "u1", Content: "Hello"}))
		assert.Equal(t, models.AnonymousAuthor, repo.Posts()[0].AuthorEmail)
	})

	t.Run("rejections never reach the store", func(t *testing.T) {
		tests := []struct {
			name    string
			opts    FeedOptions
			draft   models.Draft
			wantErr error
		}{
			{
				name:    "whitespace only content",
				draft:   models.Draft{AuthorID: "u1", Content: "   "},
				wantErr: ErrValidationFailed,
			},
			{
				name:    "empty content",
				draft:   models.Draft{AuthorID: "u1"},
				wantErr: ErrValidationFailed,
			},
			{
				name:    "missing author",
				draft:   models.Draft{Content: "Hello"},
				wantErr: ErrAuthRequired,
			},
			{
				name:    "missing author and content",
				draft:   models.Draft{},
				wantErr: ErrAuthRequired,
			},
			{
				name:    "blank title when required",
				opts:    FeedOptions{RequireTitle: true},
				draft:   models.Draft{AuthorID: "u1", Title: " ", Content: "Hello"},
				wantErr: ErrValidationFailed,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				repo := mock.NewPostRepository()
				svc := NewFeedService(repo, tt.opts, testLogger())

				err := svc.Submit(ctx, tt.draft)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, repo.Creates)
			})
		}
	})

	t.Run("store failure is a write failure without retry", func(t *testing.T) {
		repo := mock.NewPostRepository()
		cause := errors.New("unavailable")
		repo.CreateErr = cause
		svc := NewFeedService(repo, FeedOptions{}, testLogger())

		err := svc.Submit(ctx, models.Draft{AuthorID: "u1", Content: "Hello"})
		assert.ErrorIs(t, err, ErrWriteFailed)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 1, repo.Creates)
	})

	t.Run("submit as identity", func(t *testing.T) {
		repo := mock.NewPostRepository()
		svc := NewFeedService(repo, FeedOptions{}, testLogger())
		email := "b@x.com"

		assert.ErrorIs(t, svc.SubmitAs(ctx, nil, "", "Hello"), ErrAuthRequired)
		assert.ErrorIs(t, svc.SubmitAs(ctx, &models.Identity{}, "", "Hello"), ErrAuthRequired)
		require.NoError(t, svc.SubmitAs(ctx, &models.Identity{ID: "u2", Email: &email}, "Hi", "Hello"))
		require.NoError(t, svc.SubmitAs(ctx, &models.Identity{ID: "u3"}, "", "Hello"))

		posts := repo.Posts()
		require.Len(t, posts, 2)
		assert.Equal(t, "b@x.com", posts[0].AuthorEmail)
		assert.Equal(t, models.AnonymousAuthor, posts[1].AuthorEmail)
	})
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("empty feed delivers empty sequence", func(t *testing.T) {
		svc := NewFeedService(setupBadgerRepo(t), FeedOptions{}, testLogger())
		rec := newFeedRecorder()
		sub := svc.Subscribe(rec.onUpdate, rec.onError)
		defer sub.Close()

		posts := rec.next(t)
		assert.NotNil(t, posts)
		assert.Empty(t, posts)
	})

	t.Run("post from another client reaches the subscriber", func(t *testing.T) {
		repo := setupBadgerRepo(t)
		clientA := NewFeedService(repo, FeedOptions{}, testLogger())
		clientB := NewFeedService(repo, FeedOptions{}, testLogger())

		rec := newFeedRecorder()
		sub := clientA.Subscribe(rec.onUpdate, rec.onError)
		defer sub.Close()
		require.Empty(t, rec.next(t))

		err := clientB.Submit(ctx, models.Draft{
			AuthorID:    "u2",
			AuthorEmail: "b@x.com",
			Title:       "Hi",
			Content:     "Hello world",
		})
		require.NoError(t, err)

		posts := rec.next(t)
		require.Len(t, posts, 1)
		assert.Equal(t, "Hi", posts[0].Title)
		assert.Equal(t, "Hello world", posts[0].Content)
		assert.Equal(t, "u2", posts[0].AuthorID)
		assert.Equal(t, "b@x.com", posts[0].AuthorEmail)
		assert.NotEmpty(t, posts[0].ID)
		assert.False(t, posts[0].CreatedAt.IsZero())
	})

	t.Run("identical submits are not deduplicated", func(t *testing.T) {
		svc := NewFeedService(setupBadgerRepo(t), FeedOptions{}, testLogger())
		rec := newFeedRecorder()
		sub := svc.Subscribe(rec.onUpdate, rec.onError)
		defer sub.Close()
		rec.next(t)

		draft := models.Draft{AuthorID: "u1", AuthorEmail: "a@x.com", Content: "same"}
		require.NoError(t, svc.Submit(ctx, draft))
		require.NoError(t, svc.Submit(ctx, draft))

		posts := rec.waitLen(t, 2)
		assert.NotEqual(t, posts[0].ID, posts[1].ID)
	})

	t.Run("newest first and later commits never sort earlier", func(t *testing.T) {
		svc := NewFeedService(setupBadgerRepo(t), FeedOptions{}, testLogger())
		rec := newFeedRecorder()
		sub := svc.Subscribe(rec.onUpdate, rec.onError)
		defer sub.Close()
		rec.next(t)

		for i := 0; i < 5; i++ {
			require.NoError(t, svc.Submit(ctx, models.Draft{AuthorID: "u1", Content: fmt.Sprintf("post %d", i)}))
			posts := rec.waitLen(t, i+1)
			assert.Equal(t, fmt.Sprintf("post %d", i), posts[0].Content)
			for j := 1; j < len(posts); j++ {
				assert.False(t, posts[j-1].CreatedAt.Before(posts[j].CreatedAt))
			}
		}
	})

	t.Run("concurrent writers", func(t *testing.T) {
		repo := setupBadgerRepo(t)
		reader := NewFeedService(repo, FeedOptions{}, testLogger())
		rec := newFeedRecorder()
		sub := reader.Subscribe(rec.onUpdate, rec.onError)
		defer sub.Close()
		rec.next(t)

		const writers, perWriter = 4, 5
		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				svc := NewFeedService(repo, FeedOptions{}, testLogger())
				for i := 0; i < perWriter; i++ {
					assert.NoError(t, svc.Submit(ctx, models.Draft{
						AuthorID: fmt.Sprintf("u%d", w),
						Content:  fmt.Sprintf("%d-%d", w, i),
					}))
				}
			}(w)
		}
		wg.Wait()

		posts := rec.waitLen(t, writers*perWriter)
		ids := make(map[string]struct{})
		for i, p := range posts {
			ids[p.ID] = struct{}{}
			if i > 0 {
				assert.True(t, posts[i-1].CreatedAt.After(p.CreatedAt))
			}
		}
		assert.Len(t, ids, writers*perWriter)
	})

	t.Run("close stops deliveries", func(t *testing.T) {
		repo := setupBadgerRepo(t)
		svc := NewFeedService(repo, FeedOptions{}, testLogger())
		rec := newFeedRecorder()
		sub := svc.Subscribe(rec.onUpdate, rec.onError)
		rec.next(t)

		sub.Close()
		sub.Close()
		select {
		case <-sub.Done():
		default:
			t.Fatal("Done not closed after Close")
		}
		assert.NoError(t, sub.Err())

		other := NewFeedService(repo, FeedOptions{}, testLogger())
		require.NoError(t, other.Submit(ctx, models.Draft{AuthorID: "u2", Content: "after close"}))
		rec.quiet(t)
	})

	t.Run("close from inside a callback", func(t *testing.T) {
		svc := NewFeedService(setupBadgerRepo(t), FeedOptions{}, testLogger())
		calls := make(chan struct{}, 8)
		var sub *Subscription
		var mu sync.Mutex
		mu.Lock()
		sub = svc.Subscribe(func([]*models.Post) {
			mu.Lock()
			s := sub
			mu.Unlock()
			s.Close()
			calls <- struct{}{}
		}, nil)
		mu.Unlock()

		select {
		case <-calls:
		case <-time.After(waitTimeout):
			t.Fatal("callback never ran")
		}
		require.NoError(t, svc.Submit(ctx, models.Draft{AuthorID: "u1", Content: "x"}))
		time.Sleep(50 * time.Millisecond)
		assert.Len(t, calls, 0)
		<-sub.Done()
	})

	t.Run("submit does not echo locally", func(t *testing.T) {
		repo := mock.NewPostRepository()
		svc := NewFeedService(repo, FeedOptions{}, testLogger())
		rec := newFeedRecorder()
		sub := svc.Subscribe(rec.onUpdate, rec.onError)
		defer sub.Close()
		first := rec.next(t)
		require.Empty(t, first)

		require.NoError(t, svc.Submit(ctx, models.Draft{AuthorID: "u1", Content: "Hello"}))
		assert.Empty(t, first, "delivered snapshots are never mutated")
		assert.Len(t, rec.next(t), 1)
	})

	t.Run("failure to establish", func(t *testing.T) {
		repo := mock.NewPostRepository()
		cause := errors.New("permission denied")
		repo.WatchErr = cause
		svc := NewFeedService(repo, FeedOptions{}, testLogger())
		rec := newFeedRecorder()
		sub := svc.Subscribe(rec.onUpdate, rec.onError)

		select {
		case err := <-rec.errs:
			assert.ErrorIs(t, err, ErrSubscriptionFailed)
			assert.ErrorIs(t, err, cause)
		case <-time.After(waitTimeout):
			t.Fatal("no error reported")
		}
		<-sub.Done()
		assert.ErrorIs(t, sub.Err(), ErrSubscriptionFailed)
		assert.Empty(t, rec.updates)
	})

	t.Run("interrupted feed", func(t *testing.T) {
		repo := mock.NewPostRepository()
		svc := NewFeedService(repo, FeedOptions{}, testLogger())
		rec := newFeedRecorder()
		sub := svc.Subscribe(rec.onUpdate, rec.onError)
		rec.next(t)

		repo.Fail(errors.New("connection reset"))
		<-sub.Done()
		assert.ErrorIs(t, sub.Err(), ErrSubscriptionFailed)
		assert.Len(t, rec.errs, 1)

		require.NoError(t, svc.Submit(ctx, models.Draft{AuthorID: "u1", Content: "Hello"}))
		rec.quiet(t)
	})

	t.Run("no error after close", func(t *testing.T) {
		repo := mock.NewPostRepository()
		svc := NewFeedService(repo, FeedOptions{}, testLogger())
		rec := newFeedRecorder()
		sub := svc.Subscribe(rec.onUpdate, rec.onError)
		rec.next(t)
		sub.Close()

		repo.Fail(errors.New("late"))
		assert.Empty(t, rec.errs)
		assert.NoError(t, sub.Err())
	})

	t.Run("submit is independent of subscriptions", func(t *testing.T) {
		repo := setupBadgerRepo(t)
		svc := NewFeedService(repo, FeedOptions{}, testLogger())
		sub := svc.Subscribe(func([]*models.Post) {}, nil)
		sub.Close()

		require.NoError(t, svc.Submit(ctx, models.Draft{AuthorID: "u1", Content: "after view closed"}))

		rec := newFeedRecorder()
		sub2 := svc.Subscribe(rec.onUpdate, rec.onError)
		defer sub2.Close()
		assert.Len(t, rec.waitLen(t, 1), 1)
	})
}

func TestUniquePosts(t *testing.T) {
	a := &models.Post{ID: "a"}
	b := &models.Post{ID: "b"}
	got := uniquePosts([]*models.Post{a, b, a})
	assert.Equal(t, []*models.Post{a, b}, got)
	assert.NotNil(t, uniquePosts(nil))
}
