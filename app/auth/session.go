package auth

import (
	"context"
	"sync"
	"sync/atomic"

	"classicboard/app/models"
)

// Provider is the account backend a Session signs in against. *Service and
// the HTTP client both implement it.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (string, *models.Identity, error)
	SignIn(ctx context.Context, email, password string) (string, *models.Identity, error)
	SignOut(ctx context.Context, token string) error
}

// Session tracks the signed-in identity of one client and notifies listeners
// when it changes.
type Session struct {
	provider Provider

	mu        sync.Mutex
	token     string
	current   *models.Identity
	listeners map[*listener]struct{}
}

// NewSession creates a signed-out session.
func NewSession(p Provider) *Session {
	return &Session{
		provider:  p,
		listeners: make(map[*listener]struct{}),
	}
}

// SignUp creates an account and signs it in.
func (s *Session) SignUp(ctx context.Context, email, password string) error {
	token, id, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		return err
	}
	s.set(token, id)
	return nil
}

// SignIn signs an existing account in.
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	token, id, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	s.set(token, id)
	return nil
}

// SignOut ends the session. The local state is cleared even when the
// provider call fails.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return nil
	}
	err := s.provider.SignOut(ctx, token)
	s.set("", nil)
	return err
}

// Resume adopts a token obtained earlier, for example from configuration.
func (s *Session) Resume(token string, id *models.Identity) {
	s.set(token, id)
}

// Current returns the signed-in identity, or nil.
func (s *Session) Current() *models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Token returns the session token, or "" when signed out.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// OnChange registers fn to be called with the identity on registration and
// after every sign in or sign out. Calls are asynchronous and serialized per
// listener; changes in quick succession may be reported once with the latest
// identity. The returned cancel stops further calls and is safe to call from
// inside fn.
func (s *Session) OnChange(fn func(*models.Identity)) (cancel func()) {
	l := newListener(s, fn)
	s.mu.Lock()
	s.listeners[l] = struct{}{}
	s.mu.Unlock()
	go l.run()
	return func() {
		s.mu.Lock()
		delete(s.listeners, l)
		s.mu.Unlock()
		l.stop()
	}
}

func (s *Session) set(token string, id *models.Identity) {
	s.mu.Lock()
	s.token = token
	s.current = id
	ls := make([]*listener, 0, len(s.listeners))
	for l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()
	for _, l := range ls {
		l.signal()
	}
}

type listener struct {
	session *Session
	fn      func(*models.Identity)

	notify chan struct{}
	quit   chan struct{}

	mu         sync.Mutex // held while fn runs
	stopped    atomic.Bool
	inCallback atomic.Bool
	stopOnce   sync.Once
}

func newListener(s *Session, fn func(*models.Identity)) *listener {
	l := &listener{
		session: s,
		fn:      fn,
		notify:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	l.notify <- struct{}{}
	return l
}

func (l *listener) signal() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *listener) run() {
	for {
		select {
		case <-l.quit:
			return
		case <-l.notify:
		}
		l.mu.Lock()
		l.inCallback.Store(true)
		if !l.stopped.Load() {
			l.fn(l.session.Current())
		}
		l.inCallback.Store(false)
		l.mu.Unlock()
	}
}

func (l *listener) stop() {
	l.stopOnce.Do(func() {
		l.stopped.Store(true)
		close(l.quit)
	})
	if l.inCallback.Load() {
		return
	}
	l.mu.Lock()
	l.mu.Unlock()
}
