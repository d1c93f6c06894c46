package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/transport"
)

const authPrefix = "/auth/v1"

// refreshWindow is how close to expiry EnsureAuthenticated refreshes.
const refreshWindow = 5 * time.Minute

// lockTimeout bounds waiting for the token file lock.
const lockTimeout = 5 * time.Second

// Event is a session change.
type Event int

const (
	SignedIn Event = iota
	SignedOut
	TokenRefreshed
)

func (e Event) String() string {
	switch e {
	case SignedIn:
		return "SIGNED_IN"
	case SignedOut:
		return "SIGNED_OUT"
	case TokenRefreshed:
		return "TOKEN_REFRESHED"
	default:
		return "UNKNOWN"
	}
}

// Listener receives session changes. session is nil after SignedOut.
type Listener func(event Event, session *models.Session)

// Service handles authentication operations.
type Service struct {
	transport transport.Transport
	logger    *events.Logger
	tokenFile string

	mu        sync.Mutex
	session   *models.Session
	listeners map[int]Listener
	nextID    int
}

// NewService creates an auth service. tokenFile may be empty to keep the
// session in memory only.
func NewService(t transport.Transport, tokenFile string, logger *events.Logger) *Service {
	return &Service{
		transport: t,
		tokenFile: tokenFile,
		logger:    logger.WithField("service", "auth"),
		listeners: make(map[int]Listener),
	}
}

// tokenResponse is the session body of the auth API.
type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"user"`
}

// SignIn authenticates with email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password required")
	}

	s.logger.WithField("email", email).Info("Signing in")

	session, err := s.token(ctx, "password", models.Credentials{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	s.establish(session, SignedIn)
	s.logger.WithField("user_id", session.UserID()).Info("Sign in successful")
	return session, nil
}

// SignUp registers a new account. Backends that sign the new user in
// straight away return a session, otherwise the result is nil.
func (s *Service) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password required")
	}

	s.logger.WithField("email", email).Info("Signing up")

	var resp tokenResponse
	err := s.transport.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   authPrefix + "/signup",
		JSON:   models.Credentials{Email: email, Password: password},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", authError(err))
	}

	// Email confirmation pending.
	if resp.AccessToken == "" {
		return nil, nil
	}

	session, err := newSession(resp)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	s.establish(session, SignedIn)
	return session, nil
}

// SignOut ends the session. The server call is best effort; local state is
// always cleared.
func (s *Service) SignOut(ctx context.Context) error {
	s.logger.Info("Signing out")

	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session.IsAuthenticated() {
		err := s.transport.Do(ctx, &transport.Request{
			Method: http.MethodPost,
			Path:   authPrefix + "/logout",
		}, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Server sign out failed")
		}
	}

	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	s.transport.SetToken("")

	if s.tokenFile != "" {
		if err := s.withLock(ctx, func() error { return os.Remove(s.tokenFile) }); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.WithError(err).Warn("Failed to remove token file")
		}
	}

	s.notify(SignedOut, nil)
	return nil
}

// Session returns the current session, loading it from the token file on
// first use.
func (s *Service) Session() (*models.Session, error) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session.IsAuthenticated() {
		return session, nil
	}

	loaded, err := s.loadSession(context.Background())
	if err != nil {
		s.logger.WithError(err).Debug("No stored session")
		return nil, models.ErrNotAuthenticated
	}
	if !loaded.IsAuthenticated() {
		return nil, models.ErrNotAuthenticated
	}

	s.mu.Lock()
	s.session = loaded
	s.mu.Unlock()
	s.transport.SetToken(loaded.AccessToken)
	return loaded, nil
}

// Refresh exchanges the refresh token for a new session.
func (s *Service) Refresh(ctx context.Context) (*models.Session, error) {
	s.mu.Lock()
	current := s.session
	s.mu.Unlock()

	if current == nil {
		loaded, err := s.loadSession(ctx)
		if err != nil {
			return nil, models.ErrNotAuthenticated
		}
		current = loaded
	}
	if current.RefreshToken == "" {
		return nil, models.ErrNotAuthenticated
	}

	s.logger.Debug("Refreshing token")

	session, err := s.token(ctx, "refresh_token", map[string]string{"refresh_token": current.RefreshToken})
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if session.User.Email == "" {
		session.User.Email = current.User.Email
	}

	s.establish(session, TokenRefreshed)
	return session, nil
}

// EnsureAuthenticated returns a valid session, refreshing it when it
// expires within five minutes. An expired stored session is refreshed
// as long as it carries a refresh token.
func (s *Service) EnsureAuthenticated(ctx context.Context) (*models.Session, error) {
	session, err := s.Session()
	if err != nil {
		refreshed, rerr := s.Refresh(ctx)
		if rerr != nil {
			if !errors.Is(rerr, models.ErrNotAuthenticated) {
				s.logger.WithError(rerr).Warn("Expired session could not be refreshed")
			}
			return nil, models.ErrNotAuthenticated
		}
		return refreshed, nil
	}

	if time.Until(session.ExpiresAt) < refreshWindow {
		refreshed, err := s.Refresh(ctx)
		if err != nil {
			// Continue with existing token
			s.logger.WithError(err).Warn("Token refresh failed")
			return session, nil
		}
		return refreshed, nil
	}

	return session, nil
}

// Subscribe registers fn for session changes and returns a function that
// removes it.
func (s *Service) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Service) token(ctx context.Context, grant string, body interface{}) (*models.Session, error) {
	var resp tokenResponse
	err := s.transport.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   authPrefix + "/token",
		Query:  url.Values{"grant_type": {grant}},
		JSON:   body,
	}, &resp)
	if err != nil {
		return nil, authError(err)
	}
	return newSession(resp)
}

func (s *Service) establish(session *models.Session, event Event) {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	s.transport.SetToken(session.AccessToken)

	if err := s.saveSession(context.Background(), session); err != nil {
		s.logger.WithError(err).Warn("Failed to save token")
	}

	s.notify(event, session)
}

func (s *Service) notify(event Event, session *models.Session) {
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(event, session)
	}
}

// newSession builds a session from an auth response, falling back to the
// access token claims for the user id and expiry.
func newSession(resp tokenResponse) (*models.Session, error) {
	if resp.AccessToken == "" {
		return nil, &models.AuthError{Message: "response did not include an access token"}
	}

	session := &models.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		User:         resp.User,
	}

	switch {
	case resp.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		session.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	if session.ExpiresAt.IsZero() || session.User.ID == "" {
		claims, err := parseClaims(resp.AccessToken)
		if err != nil {
			return nil, &models.AuthError{Message: "unreadable access token", Err: err}
		}
		if session.User.ID == "" {
			session.User.ID = claims.Subject
		}
		if session.User.Email == "" {
			session.User.Email = claims.Email
		}
		if session.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
			session.ExpiresAt = claims.ExpiresAt.Time
		}
	}

	if session.User.ID == "" {
		return nil, &models.AuthError{Message: "access token has no subject"}
	}
	return session, nil
}

type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// parseClaims reads the token claims without verifying the signature. The
// server verifies tokens; the client only needs the subject and expiry.
func parseClaims(raw string) (*accessClaims, error) {
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// authError turns an API error into an AuthError carrying the server's
// description.
func authError(err error) error {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return &models.AuthError{Message: apiErr.Message, Err: err}
	}
	return err
}

// Token persistence

func (s *Service) withLock(ctx context.Context, fn func() error) error {
	lock := flock.New(s.tokenFile + ".lock")

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock token file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock token file: timeout")
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

func (s *Service) saveSession(ctx context.Context, session *models.Session) error {
	if s.tokenFile == "" {
		return nil
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.tokenFile), 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	return s.withLock(ctx, func() error {
		// Save with restricted permissions
		return os.WriteFile(s.tokenFile, data, 0600)
	})
}

func (s *Service) loadSession(ctx context.Context) (*models.Session, error) {
	if s.tokenFile == "" {
		return nil, fmt.Errorf("no token file configured")
	}
	if _, err := os.Stat(s.tokenFile); err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var data []byte
	err := s.withLock(ctx, func() error {
		var err error
		data, err = os.ReadFile(s.tokenFile)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &session, nil
}
