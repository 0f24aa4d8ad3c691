package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"classicboard/app/middleware"
	"classicboard/app/models"
	"classicboard/app/repositories"
	"classicboard/app/services"
)

// FeedController serves the feed over HTTP. Each reader gets its own
// FeedService, so every open stream is one subscription.
type FeedController struct {
	postRepo  repositories.PostRepository
	opts      services.FeedOptions
	submitter *services.FeedService
	logger    *slog.Logger

	// SnapshotTimeout bounds how long Index waits for the first delivery.
	SnapshotTimeout time.Duration
	// KeepAlive is the interval of comment lines on idle streams.
	KeepAlive time.Duration
}

// NewFeedController creates a new FeedController
func NewFeedController(postRepo repositories.PostRepository, opts services.FeedOptions, logger *slog.Logger) *FeedController {
	return &FeedController{
		postRepo:        postRepo,
		opts:            opts,
		submitter:       services.NewFeedService(postRepo, opts, logger),
		logger:          logger,
		SnapshotTimeout: 10 * time.Second,
		KeepAlive:       25 * time.Second,
	}
}

type feedResponse struct {
	Posts []*models.Post `json:"posts"`
}

type createPostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type createPostResponse struct {
	Status string `json:"status"`
}

// latest holds the most recent delivery of a subscription. Deliveries that
// arrive before the reader catches up replace each other.
type latest struct {
	mu     sync.Mutex
	posts  []*models.Post
	ready  chan struct{}
	hasNew bool
}

func newLatest() *latest {
	return &latest{ready: make(chan struct{}, 1)}
}

func (l *latest) put(posts []*models.Post) {
	l.mu.Lock()
	l.posts = posts
	l.hasNew = true
	l.mu.Unlock()
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *latest) take() ([]*models.Post, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.hasNew {
		return nil, false
	}
	l.hasNew = false
	return l.posts, true
}

// Index returns the current feed, newest first.
func (fc *FeedController) Index(w http.ResponseWriter, r *http.Request) {
	feed := services.NewFeedService(fc.postRepo, fc.opts, fc.logger)
	slot := newLatest()
	sub := feed.Subscribe(slot.put, nil)
	defer sub.Close()

	timer := time.NewTimer(fc.SnapshotTimeout)
	defer timer.Stop()

	select {
	case <-slot.ready:
		posts, _ := slot.take()
		sendJSON(w, http.StatusOK, feedResponse{Posts: posts})
	case <-sub.Done():
		sendError(w, "Failed to load posts: "+sub.Err().Error(), http.StatusServiceUnavailable)
	case <-timer.C:
		sendError(w, "Timed out loading posts", http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

// Stream sends the feed as server-sent events: one "snapshot" event per
// delivery, and a final "error" event if the subscription fails. The
// subscription is closed when the client goes away.
func (fc *FeedController) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	feed := services.NewFeedService(fc.postRepo, fc.opts, fc.logger)
	slot := newLatest()
	sub := feed.Subscribe(slot.put, nil)
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(fc.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			fc.logger.Debug("Feed stream closed by client")
			return
		case <-slot.ready:
			posts, ok := slot.take()
			if !ok {
				continue
			}
			if err := writeEvent(w, "snapshot", feedResponse{Posts: posts}); err != nil {
				fc.logger.Warn("Feed stream write failed", "error", err)
				return
			}
			flusher.Flush()
		case <-sub.Done():
			// deliver what arrived before the failure first
			if posts, ok := slot.take(); ok {
				writeEvent(w, "snapshot", feedResponse{Posts: posts})
			}
			writeEvent(w, "error", map[string]string{"error": sub.Err().Error()})
			flusher.Flush()
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

// Create handles creating a new post for the authenticated user
func (fc *FeedController) Create(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	id := middleware.IdentityFrom(r.Context())
	err := fc.submitter.SubmitAs(r.Context(), id, req.Title, req.Content)
	switch {
	case err == nil:
		sendJSON(w, http.StatusCreated, createPostResponse{Status: "created"})
	case errors.Is(err, services.ErrAuthRequired):
		sendError(w, "Sign in to post", http.StatusUnauthorized)
	case errors.Is(err, services.ErrValidationFailed):
		sendError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrWriteFailed):
		sendError(w, "Failed to create post", http.StatusServiceUnavailable)
	default:
		sendError(w, "Failed to create post: "+err.Error(), http.StatusInternalServerError)
	}
}
