package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"classicboard/app/auth"
	"classicboard/app/docstore"
	"classicboard/app/models"
	"classicboard/app/repositories"
	"classicboard/app/repositories/mock"
	"classicboard/app/routes"
	"classicboard/app/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const waitTimeout = 3 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupServer runs the full HTTP surface. A nil posts repository selects the
// badger-backed one.
func setupServer(t *testing.T, posts repositories.PostRepository) *httptest.Server {
	logger := testLogger()
	db, err := docstore.OpenDB("", true)
	require.NoError(t, err)
	store := docstore.New(db, logger)
	if posts == nil {
		posts = repositories.NewDocPostRepository(store, logger)
	}
	server := httptest.NewServer(routes.SetupRoutes(routes.Deps{
		Posts:  posts,
		Auth:   auth.NewService(db, bcrypt.MinCost, logger),
		Logger: logger,
	}))
	t.Cleanup(func() {
		server.Close()
		store.Close()
		db.Close()
	})
	return server
}

func newTestClient(url string) *Client {
	return New(url, testLogger(), WithBackoff(3, 10*time.Millisecond, 50*time.Millisecond))
}

func TestAuthAndSubmit(t *testing.T) {
	server := setupServer(t, nil)
	c := newTestClient(server.URL)
	ctx := context.Background()

	token, id, err := c.SignUp(ctx, "b@x.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	require.NotNil(t, id.Email)
	assert.Equal(t, "b@x.com", *id.Email)

	t.Run("me", func(t *testing.T) {
		me, err := c.Me(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, id.ID, me.ID)
	})

	t.Run("auth errors map to sentinels", func(t *testing.T) {
		_, _, err := c.SignUp(ctx, "b@x.com", "secret1")
		assert.ErrorIs(t, err, auth.ErrEmailInUse)
		_, _, err = c.SignIn(ctx, "b@x.com", "wrong-pw")
		assert.ErrorIs(t, err, auth.ErrWrongPassword)
		_, _, err = c.SignUp(ctx, "c@x.com", "123")
		assert.ErrorIs(t, err, auth.ErrWeakPassword)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
		assert.Equal(t, auth.Message(auth.ErrWeakPassword), apiErr.Message)
	})

	t.Run("submit and snapshot", func(t *testing.T) {
		require.NoError(t, c.Submit(ctx, token, "Hi", "Hello world"))

		posts, err := c.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, posts, 1)
		assert.Equal(t, "Hi", posts[0].Title)
		assert.Equal(t, "Hello world", posts[0].Content)
		assert.Equal(t, id.ID, posts[0].AuthorID)
		assert.Equal(t, "b@x.com", posts[0].AuthorEmail)
	})

	t.Run("submit errors map to sentinels", func(t *testing.T) {
		assert.ErrorIs(t, c.Submit(ctx, "", "", "Hello"), services.ErrAuthRequired)
		assert.ErrorIs(t, c.Submit(ctx, token, "", "   "), services.ErrValidationFailed)
	})

	t.Run("session over the client", func(t *testing.T) {
		session := auth.NewSession(c)
		require.NoError(t, session.SignIn(ctx, "b@x.com", "secret1"))
		require.NotNil(t, session.Current())
		assert.Equal(t, id.ID, session.Current().ID)

		loggedOut := session.Token()
		require.NoError(t, session.SignOut(ctx))
		assert.Nil(t, session.Current())
		_, err := c.Me(ctx, loggedOut)
		assert.Error(t, err)
	})
}

func TestSnapshotEmpty(t *testing.T) {
	server := setupServer(t, nil)
	posts, err := newTestClient(server.URL).Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, posts)
	assert.Empty(t, posts)
}

func nextPosts(t *testing.T, updates <-chan []*models.Post) []*models.Post {
	t.Helper()
	select {
	case posts := <-updates:
		return posts
	case <-time.After(waitTimeout):
		t.Fatal("no update")
		return nil
	}
}

func TestWatch(t *testing.T) {
	t.Run("follows the feed", func(t *testing.T) {
		server := setupServer(t, nil)
		c := newTestClient(server.URL)
		ctx, cancel := context.WithCancel(context.Background())

		updates := make(chan []*models.Post, 16)
		done := make(chan error, 1)
		go func() { done <- c.Watch(ctx, func(posts []*models.Post) { updates <- posts }) }()

		assert.Empty(t, nextPosts(t, updates))

		token, _, err := c.SignUp(context.Background(), "b@x.com", "secret1")
		require.NoError(t, err)
		require.NoError(t, c.Submit(context.Background(), token, "Hi", "Hello world"))

		posts := nextPosts(t, updates)
		require.Len(t, posts, 1)
		assert.Equal(t, "Hello world", posts[0].Content)

		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(waitTimeout):
			t.Fatal("Watch did not return")
		}
	})

	t.Run("reopens a failed stream", func(t *testing.T) {
		repo := mock.NewPostRepository()
		server := setupServer(t, repo)
		c := newTestClient(server.URL)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		updates := make(chan []*models.Post, 16)
		go c.Watch(ctx, func(posts []*models.Post) { updates <- posts })
		assert.Empty(t, nextPosts(t, updates))

		repo.Fail(errors.New("connection lost"))
		assert.Empty(t, nextPosts(t, updates), "snapshot of the reopened stream")

		_, err := repo.Create(context.Background(), models.Draft{AuthorID: "u1", AuthorEmail: "a@x.com", Content: "after reconnect"})
		require.NoError(t, err)
		posts := nextPosts(t, updates)
		require.Len(t, posts, 1)
		assert.Equal(t, "after reconnect", posts[0].Content)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"forbidden"}`))
		}))
		defer server.Close()

		err := newTestClient(server.URL).Watch(context.Background(), func([]*models.Post) {})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusForbidden, apiErr.Status)
		assert.Equal(t, int32(1), requests.Load())
	})

	t.Run("gives up after the attempts", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		err := newTestClient(server.URL).Watch(context.Background(), func([]*models.Post) {})
		require.Error(t, err)
		assert.Equal(t, int32(3), requests.Load())
	})
}

func TestReadEvents(t *testing.T) {
	stream := ": keep-alive\n\n" +
		"event: snapshot\ndata: {\"posts\":[]}\n\n" +
		"data: line one\ndata: line two\n\n" +
		"event: error\ndata: {\"error\":\"boom\"}\n\n"

	type event struct{ name, data string }
	var got []event
	err := readEvents(strings.NewReader(stream), func(name, data string) error {
		got = append(got, event{name, data})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []event{
		{"snapshot", `{"posts":[]}`},
		{"message", "line one\nline two"},
		{"error", `{"error":"boom"}`},
	}, got)
}
