package mock

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"classicboard/app/models"
	"classicboard/app/repositories"
)

// PostRepository is an in-memory repositories.PostRepository. Failures can be
// injected through CreateErr and WatchErr.
type PostRepository struct {
	mutex    sync.Mutex
	posts    []*models.Post
	nextID   int
	clock    time.Time
	watchers map[*watcher]struct{}

	CreateErr error
	WatchErr  error
	Creates   int
}

type watcher struct {
	onPosts func([]*models.Post)
	onError func(error)
	stopped atomic.Bool
}

func (w *watcher) Stop() {
	w.stopped.Store(true)
}

func (w *watcher) deliver(fn func()) {
	if !w.stopped.Load() {
		fn()
	}
}

func NewPostRepository() *PostRepository {
	return &PostRepository{
		nextID:   1,
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		watchers: make(map[*watcher]struct{}),
	}
}

func (m *PostRepository) Create(ctx context.Context, draft models.Draft) (string, error) {
	m.mutex.Lock()
	m.Creates++
	if m.CreateErr != nil {
		err := m.CreateErr
		m.mutex.Unlock()
		return "", err
	}
	m.clock = m.clock.Add(time.Second)
	post := &models.Post{
		ID:          strconv.Itoa(m.nextID),
		Title:       draft.Title,
		Content:     draft.Content,
		AuthorID:    draft.AuthorID,
		AuthorEmail: draft.AuthorEmail,
		CreatedAt:   m.clock,
	}
	m.nextID++
	m.posts = append(m.posts, post)
	m.mutex.Unlock()

	m.broadcast()
	return post.ID, nil
}

func (m *PostRepository) Watch(onPosts func([]*models.Post), onError func(error)) repositories.Canceler {
	w := &watcher{onPosts: onPosts, onError: onError}
	m.mutex.Lock()
	err := m.WatchErr
	if err == nil {
		m.watchers[w] = struct{}{}
	}
	m.mutex.Unlock()

	if err != nil {
		go w.deliver(func() {
			if onError != nil {
				onError(err)
			}
		})
		return w
	}
	snap := m.snapshot()
	go w.deliver(func() { onPosts(snap) })
	return w
}

// Fail ends every live query with err.
func (m *PostRepository) Fail(err error) {
	m.mutex.Lock()
	watchers := m.watchers
	m.watchers = make(map[*watcher]struct{})
	m.mutex.Unlock()
	for w := range watchers {
		if w.onError != nil {
			w.deliver(func() { w.onError(err) })
		}
	}
}

// Posts returns everything created so far, oldest first.
func (m *PostRepository) Posts() []*models.Post {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]*models.Post(nil), m.posts...)
}

func (m *PostRepository) broadcast() {
	snap := m.snapshot()
	m.mutex.Lock()
	var ws []*watcher
	for w := range m.watchers {
		ws = append(ws, w)
	}
	m.mutex.Unlock()
	for _, w := range ws {
		w.deliver(func() { w.onPosts(snap) })
	}
}

func (m *PostRepository) snapshot() []*models.Post {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	posts := make([]*models.Post, len(m.posts))
	copy(posts, m.posts)
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return posts
}
