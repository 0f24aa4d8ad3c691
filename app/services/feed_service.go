package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"classicboard/app/models"
	"classicboard/app/repositories"

	"github.com/go-playground/validator/v10"
)

// FeedOptions tune submission rules.
type FeedOptions struct {
	// RequireTitle rejects drafts with a blank title.
	RequireTitle bool
}

// FeedService keeps one feed view in sync with the store and mediates writes.
// Create one per mounted view; the repository is shared.
type FeedService struct {
	postRepo repositories.PostRepository
	opts     FeedOptions
	logger   *slog.Logger

	active atomic.Int32
}

// NewFeedService creates a new FeedService
func NewFeedService(postRepo repositories.PostRepository, opts FeedOptions, logger *slog.Logger) *FeedService {
	return &FeedService{
		postRepo: postRepo,
		opts:     opts,
		logger:   logger,
	}
}

// Subscribe starts delivering the full feed, newest first. The first delivery
// carries the current posts (an empty, non-nil slice for an empty feed) and
// every later one follows a change in the store. Deliveries run on another
// goroutine, one at a time, and each gets its own slice.
//
// A failure to establish or keep the live channel ends the subscription: the
// error, wrapping ErrSubscriptionFailed, is passed to onError (if set) and
// reported by Err once Done is closed.
func (s *FeedService) Subscribe(onUpdate func([]*models.Post), onError func(error)) *Subscription {
	if n := s.active.Add(1); n > 1 {
		s.logger.Warn("Feed subscription opened while another is active", "active", n)
	}

	sub := &Subscription{
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		release: func() { s.active.Add(-1) },
	}
	sub.canceler = s.postRepo.Watch(func(posts []*models.Post) {
		<-sub.ready
		sub.invoke(func() { onUpdate(uniquePosts(posts)) })
	}, func(err error) {
		<-sub.ready
		err = fmt.Errorf("%w: %w", ErrSubscriptionFailed, err)
		s.logger.Error("Feed subscription failed", "error", err)
		sub.fail(err, onError)
	})
	close(sub.ready)
	return sub
}

// Submit appends one post authored by draft.AuthorID. It validates first and
// makes exactly one store call; it never retries and never touches delivered
// snapshots. The new post shows up through the next delivery.
func (s *FeedService) Submit(ctx context.Context, draft models.Draft) error {
	if draft.AuthorEmail == "" {
		draft.AuthorEmail = models.AnonymousAuthor
	}
	if err := draft.Validate(s.opts.RequireTitle); err != nil {
		return classifyDraftError(err)
	}

	id, err := s.postRepo.Create(ctx, draft)
	if err != nil {
		s.logger.Error("Post write failed", "author_id", draft.AuthorID, "error", err)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	s.logger.Info("Post created", "id", id, "author_id", draft.AuthorID)
	return nil
}

// SubmitAs submits a post for the given identity. A nil identity fails with
// ErrAuthRequired.
func (s *FeedService) SubmitAs(ctx context.Context, id *models.Identity, title, content string) error {
	if id == nil || id.ID == "" {
		return ErrAuthRequired
	}
	return s.Submit(ctx, models.NewDraft(id, title, content))
}

func classifyDraftError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.StructField() == "AuthorID" {
				return ErrAuthRequired
			}
		}
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed %q", ErrValidationFailed, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %w", ErrValidationFailed, err)
}

// uniquePosts guards the no-duplicate-id guarantee of a delivery.
func uniquePosts(posts []*models.Post) []*models.Post {
	out := make([]*models.Post, 0, len(posts))
	seen := make(map[string]struct{}, len(posts))
	for _, p := range posts {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Subscription is a live feed. Close it when the view goes away.
type Subscription struct {
	canceler repositories.Canceler
	release  func()
	ready    chan struct{}

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once

	cbMu       sync.Mutex // held while a callback runs
	inCallback atomic.Bool

	mu  sync.Mutex
	err error
}

// Close stops deliveries. No callback starts after Close returns. It is
// idempotent and may be called from inside a callback.
func (sub *Subscription) Close() {
	sub.terminate(nil)
	if sub.inCallback.Load() {
		return
	}
	sub.cbMu.Lock()
	sub.cbMu.Unlock()
}

// Done is closed when the subscription ends, by Close or by failure.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Err returns the terminal error, or nil if the subscription was closed or
// is still running.
func (sub *Subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

func (sub *Subscription) invoke(fn func()) {
	sub.cbMu.Lock()
	defer sub.cbMu.Unlock()
	sub.inCallback.Store(true)
	defer sub.inCallback.Store(false)
	if sub.closed.Load() {
		return
	}
	fn()
}

// fail ends the subscription with err and reports it unless Close came first.
func (sub *Subscription) fail(err error, onError func(error)) {
	sub.cbMu.Lock()
	defer sub.cbMu.Unlock()
	sub.inCallback.Store(true)
	defer sub.inCallback.Store(false)
	if sub.terminate(err) && onError != nil {
		onError(err)
	}
}

// terminate ends the subscription once and reports whether this call did it.
func (sub *Subscription) terminate(err error) bool {
	first := false
	sub.closeOnce.Do(func() {
		first = true
		sub.closed.Store(true)
		sub.mu.Lock()
		sub.err = err
		sub.mu.Unlock()
		sub.canceler.Stop()
		sub.release()
		close(sub.done)
	})
	return first
}
