package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Registration holds validated sign-up input.
type Registration struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// AccountService registers users and provisions their default board.
type AccountService struct {
	store    Store
	identity IdentityAdmin
	verifier TokenVerifier
	events   Publisher
	log      *log.Logger

	now   func() time.Time
	newID func() string
}

func NewAccountService(store Store, identity IdentityAdmin, verifier TokenVerifier, events Publisher, logger *log.Logger) *AccountService {
	if events == nil {
		events = NopPublisher{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &AccountService{
		store:    store,
		identity: identity,
		verifier: verifier,
		events:   events,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Register creates the identity user and then, in one batch, the profile and
// the three default lists. If the batch fails the identity user is removed
// again.
func (s *AccountService) Register(ctx context.Context, r Registration) (User, error) {
	rec, err := s.identity.CreateUser(ctx, NewIdentity{
		Email:       r.Email,
		Password:    r.Password,
		DisplayName: r.FirstName + " " + r.LastName,
	})
	if err != nil {
		return User{}, fmt.Errorf("create identity user: %w", err)
	}

	name := rec.DisplayName
	if name == "" {
		name = r.FirstName + " " + r.LastName
	}
	user := User{ID: rec.UID, Name: name, Email: r.Email, CreatedAt: s.now()}
	b := s.provisionBatch(user)
	if err := s.store.Commit(ctx, user.ID, b); err != nil {
		logger := s.log.WithFields(log.Fields{"user": user.ID, "error": err})
		logger.Error("provisioning new account failed; removing identity user")
		if derr := s.identity.DeleteUser(ctx, user.ID); derr != nil {
			logger.WithField("delete_error", derr).Error("identity user left orphaned")
		}
		return User{}, fmt.Errorf("provision account: %w", err)
	}

	s.log.WithField("user", user.ID).Info("user registered")
	s.events.Publish(ctx, newEvent(UserRegistered, user.ID, user.ID, "", map[string]any{
		"name":  user.Name,
		"email": user.Email,
	}))
	return user, nil
}

// Login verifies a token the client obtained from the identity provider and
// returns its principal.
func (s *AccountService) Login(ctx context.Context, token string) (Principal, error) {
	p, err := s.verifier.VerifyToken(ctx, token)
	if err != nil {
		return Principal{}, fmt.Errorf("verify token: %w", err)
	}
	return p, nil
}

// FederatedLogin verifies the token and returns the stored profile, creating
// profile and default lists on first login. created reports whether the
// account was provisioned by this call.
func (s *AccountService) FederatedLogin(ctx context.Context, token string) (user User, created bool, err error) {
	p, err := s.verifier.VerifyToken(ctx, token)
	if err != nil {
		return User{}, false, fmt.Errorf("verify token: %w", err)
	}

	existing, err := s.store.GetUser(ctx, p.UID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, false, fmt.Errorf("load profile: %w", err)
	}

	user = User{ID: p.UID, Name: p.Name, Email: p.Email, Avatar: p.Picture, CreatedAt: s.now()}
	if err := s.store.Commit(ctx, user.ID, s.provisionBatch(user)); err != nil {
		if !errors.Is(err, ErrConcurrencyConflict) {
			return User{}, false, fmt.Errorf("provision account: %w", err)
		}
		// A concurrent first login won the race.
		existing, gerr := s.store.GetUser(ctx, p.UID)
		if gerr != nil {
			return User{}, false, fmt.Errorf("load profile: %w", gerr)
		}
		return existing, false, nil
	}

	s.log.WithField("user", user.ID).Info("federated user provisioned")
	s.events.Publish(ctx, newEvent(UserRegistered, user.ID, user.ID, "", map[string]any{
		"name":      user.Name,
		"email":     user.Email,
		"federated": true,
	}))
	return user, true, nil
}

// provisionBatch writes the profile plus one list per default title, each
// seeded with an empty task at position 0.
func (s *AccountService) provisionBatch(user User) *Batch {
	var b Batch
	b.CreateUser(user)
	for _, title := range DefaultListTitles {
		list := TaskList{
			ID:        s.newID(),
			Title:     title,
			UserID:    user.ID,
			CreatedAt: user.CreatedAt,
			UpdatedAt: user.CreatedAt,
		}
		seed := Task{
			ID:        s.newID(),
			ListID:    list.ID,
			Order:     0,
			UserID:    user.ID,
			CreatedAt: user.CreatedAt,
			UpdatedAt: user.CreatedAt,
		}
		list.Tasks = []string{seed.ID}
		b.CreateList(list)
		b.CreateTask(seed)
	}
	return &b
}
