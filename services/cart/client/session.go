package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// State is the authentication state of a Session.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticated
)

func (s State) String() string {
	if s == StateAuthenticated {
		return "authenticated"
	}
	return "anonymous"
}

// ErrAlreadyAuthenticated is returned by Login on an authenticated session.
var ErrAlreadyAuthenticated = errors.New("session is already authenticated")

// Session holds one client's identity across login and logout. Every cart
// call resolves its owner from the current state: the user's cart while
// authenticated, the session's cart otherwise. The session ID survives
// logout, so anonymous activity after logout lands in the same session cart.
type Session struct {
	api *Client

	// loginMu serializes Login calls; mu guards the fields below and is
	// never held across a network call.
	loginMu   sync.Mutex
	mu        sync.Mutex
	sessionID string
	userID    string
	token     string
	state     State
}

// NewSession starts an anonymous session. An empty sessionID gets a fresh
// random one.
func NewSession(api *Client, sessionID string) *Session {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Session{api: api, sessionID: sessionID}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// UserID returns the logged-in user, or "" while anonymous.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := Identity{SessionID: s.sessionID}
	if s.state == StateAuthenticated {
		id.Token = s.token
	}
	return id
}

func (s *Session) Cart(ctx context.Context) (*Cart, error) {
	return s.api.GetCart(ctx, s.identity())
}

func (s *Session) AddItem(ctx context.Context, productID string, quantity int) (*CartItem, error) {
	return s.api.AddItem(ctx, s.identity(), productID, quantity)
}

func (s *Session) UpdateQuantity(ctx context.Context, itemID string, quantity int) (*CartItem, error) {
	return s.api.UpdateQuantity(ctx, s.identity(), itemID, quantity)
}

func (s *Session) RemoveItem(ctx context.Context, itemID string) error {
	return s.api.RemoveItem(ctx, s.identity(), itemID)
}

// Login merges the session cart into userID's cart, then switches the
// session to the user. The merge is attempted exactly once per call; on
// failure the session stays anonymous and Login may be retried. Concurrent
// Login calls run one at a time; other methods are not blocked by the merge.
func (s *Session) Login(ctx context.Context, userID, token string) (*MergeResult, error) {
	if userID == "" || token == "" {
		return nil, errors.New("login requires a user id and token")
	}

	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	s.mu.Lock()
	state, sessionID := s.state, s.sessionID
	s.mu.Unlock()

	if state == StateAuthenticated {
		return nil, ErrAlreadyAuthenticated
	}

	result, err := s.api.Merge(ctx, Identity{SessionID: sessionID, Token: token})
	if err != nil {
		return nil, fmt.Errorf("merge session cart: %w", err)
	}

	s.mu.Lock()
	s.userID = userID
	s.token = token
	s.state = StateAuthenticated
	s.mu.Unlock()
	return result, nil
}

// Logout returns to the anonymous state, keeping the session ID.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userID = ""
	s.token = ""
	s.state = StateAnonymous
}
