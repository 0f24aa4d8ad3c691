// Package auth provides email/password accounts and session tokens for the
// board. Accounts and sessions live in the same badger database as the posts.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"classicboard/app/models"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	userKeyPrefix    = "user/"
	sessionKeyPrefix = "session/"

	// MinPasswordLength is the shortest accepted password, in characters.
	MinPasswordLength = 6
	// MaxPasswordBytes is the longest password bcrypt can hash.
	MaxPasswordBytes  = 72
)

type credentials struct {
	Email string `validate:"required,email"`
}

type account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

type session struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service manages accounts and sessions.
type Service struct {
	db     *badger.DB
	logger *slog.Logger
	cost   int
	mu     sync.Mutex // serializes sign-ups so an email is claimed once
}

// NewService creates an account service on db. cost is the bcrypt cost; zero
// selects bcrypt.DefaultCost.
func NewService(db *badger.DB, cost int, logger *slog.Logger) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{db: db, cost: cost, logger: logger}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var passwordRule = fmt.Sprintf("min=%d", MinPasswordLength)

func validateCredentials(email, password string) error {
	err := models.Validator().Struct(credentials{Email: email})
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return ErrInvalidEmail
		}
		return err
	}
	if err := models.Validator().Var(password, passwordRule); err != nil {
		return ErrWeakPassword
	}
	if len(password) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

// SignUp creates an account and opens a session for it.
func (s *Service) SignUp(ctx context.Context, email, password string) (string, *models.Identity, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return "", nil, err
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", nil, fmt.Errorf("hash password: %w", err)
	}
	acct := account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	s.mu.Lock()
	err = s.db.Update(func(txn *badger.Txn) error {
		key := []byte(userKeyPrefix + email)
		if _, err := txn.Get(key); err == nil {
			return ErrEmailInUse
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		data, err := json.Marshal(acct)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	s.mu.Unlock()
	if err != nil {
		return "", nil, err
	}

	s.logger.Info("Account created", "user_id", acct.ID)
	return s.openSession(acct)
}

// SignIn checks the password and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (string, *models.Identity, error) {
	email = normalizeEmail(email)
	if err := models.Validator().Var(email, "required,email"); err != nil {
		return "", nil, ErrInvalidEmail
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	var acct account
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userKeyPrefix + email))
		if err == badger.ErrKeyNotFound {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &acct)
		})
	})
	if err != nil {
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)); err != nil {
		s.logger.Warn("Sign in rejected", "user_id", acct.ID)
		return "", nil, ErrWrongPassword
	}
	return s.openSession(acct)
}

func (s *Service) openSession(acct account) (string, *models.Identity, error) {
	token := uuid.NewString()
	data, err := json.Marshal(session{UserID: acct.ID, Email: acct.Email, CreatedAt: time.Now().UTC()})
	if err != nil {
		return "", nil, err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionKeyPrefix+token), data)
	}); err != nil {
		return "", nil, fmt.Errorf("store session: %w", err)
	}
	return token, identityOf(acct.ID, acct.Email), nil
}

// Lookup resolves a session token to its identity.
func (s *Service) Lookup(token string) (*models.Identity, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}
	var sess session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + token))
		if err == badger.ErrKeyNotFound {
			return ErrInvalidSession
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if err != nil {
		return nil, err
	}
	return identityOf(sess.UserID, sess.Email), nil
}

// SignOut ends a session. Unknown tokens are ignored.
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionKeyPrefix + token))
	})
}

func identityOf(id, email string) *models.Identity {
	ident := &models.Identity{ID: id}
	if email != "" {
		ident.Email = &email
	}
	return ident
}
