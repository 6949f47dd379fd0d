// Package session owns the authenticated identity of the process: sign-in
// and sign-up with endpoint fallback, launch-time auto-login, sign-out and
// the generation-stamped leases collaborators use to read the current token.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/petmem/internal/actor"
	"github.com/and161185/petmem/internal/api"
	"github.com/and161185/petmem/internal/credstore"
	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/events"
	"github.com/and161185/petmem/internal/limiter"
	"github.com/and161185/petmem/internal/metrics"
	"github.com/and161185/petmem/internal/model"
	"github.com/and161185/petmem/internal/repository"
	"github.com/and161185/petmem/internal/validate"
)

// State is the session lifecycle state.
type State int

const (
	LoggedOut State = iota
	Authenticating
	LoggedIn
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case LoggedIn:
		return "logged_in"
	default:
		return "logged_out"
	}
}

// GatewayAuth is the app gateway's auth API (*api.Gateway).
type GatewayAuth interface {
	Name() string
	Configured() bool
	Login(ctx context.Context, email, password string) (*api.AuthResult, error)
	Register(ctx context.Context, email, password, displayName string) (*api.AuthResult, error)
	Validate(ctx context.Context, token string) (*api.AuthResult, error)
	ResetPassword(ctx context.Context, email string) error
	Logout(ctx context.Context, token string) error
}

// DirectAuth is the hosted auth provider reached without the gateway (*api.Direct).
type DirectAuth interface {
	SignInWithPassword(ctx context.Context, email, password string) (*api.AuthResult, error)
	SignUp(ctx context.Context, email, password, displayName string) (*api.AuthResult, error)
	GetUser(ctx context.Context, token string) (*api.AuthResult, error)
	Logout(ctx context.Context, token string) error
	Recover(ctx context.Context, email string) error
}

// ProfileWriter upserts rows through the row-level table API (*api.Table).
type ProfileWriter interface {
	Upsert(ctx context.Context, token, table, onConflict string, row map[string]any) ([]byte, error)
}

// Deps are the collaborators of a Manager. Alternate and Profiles are optional.
type Deps struct {
	Primary   GatewayAuth
	Alternate GatewayAuth
	Direct    DirectAuth
	Profiles  ProfileWriter
	Creds     credstore.Store
	Wiper     repository.Wiper
	Loop      *actor.Loop
	Bus       *events.Bus
	Policy    validate.Policy
	// Throttle guards AutoLogin; nil uses a 2s spacing.
	Throttle *limiter.Throttle
	Log      *zap.Logger
	Metrics  *metrics.Metrics
}

// Manager is the single owner of the process session.
type Manager struct {
	primary  GatewayAuth
	alt      GatewayAuth
	direct   DirectAuth
	profiles ProfileWriter
	creds    credstore.Store
	wiper    repository.Wiper
	loop     *actor.Loop
	bus      *events.Bus
	policy   validate.Policy
	throttle *limiter.Throttle
	log      *zap.Logger
	m        *metrics.Metrics
	now      func() time.Time

	mu    sync.RWMutex
	state State
	sess  *model.Session
	gen   uint64
}

// DefaultAutoLoginInterval is the minimum spacing between auto-login runs.
const DefaultAutoLoginInterval = 2 * time.Second

// NewManager builds a logged-out manager.
func NewManager(d Deps) *Manager {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Throttle == nil {
		d.Throttle = limiter.NewThrottle(DefaultAutoLoginInterval)
	}
	return &Manager{
		primary:  d.Primary,
		alt:      d.Alternate,
		direct:   d.Direct,
		profiles: d.Profiles,
		creds:    d.Creds,
		wiper:    d.Wiper,
		loop:     d.Loop,
		bus:      d.Bus,
		policy:   d.Policy,
		throttle: d.Throttle,
		log:      d.Log,
		m:        d.Metrics,
		now:      time.Now,
	}
}

// Lease is a view of the session at one generation. Once a later sign-in or
// sign-out happens the lease is superseded and yields no token.
type Lease struct {
	m      *Manager
	gen    uint64
	userID uuid.UUID
}

// Generation identifies the authenticated session the lease belongs to.
func (l Lease) Generation() uint64 { return l.gen }

// UserID is the owner of the leased session.
func (l Lease) UserID() uuid.UUID { return l.userID }

// Token returns the current access token, errs.ErrSuperseded when the
// session changed since the lease was taken, errs.ErrNotLoggedIn when
// there was no session.
func (l Lease) Token() (string, error) {
	if l.m == nil {
		return "", errs.ErrNotLoggedIn
	}
	l.m.mu.RLock()
	defer l.m.mu.RUnlock()
	if l.m.gen != l.gen {
		return "", errs.ErrSuperseded
	}
	if l.m.state != LoggedIn || !l.m.sess.Valid() {
		return "", errs.ErrNotLoggedIn
	}
	return l.m.sess.AccessToken, nil
}

// Current returns a copy of the session and a lease on it; ok is false
// unless the manager is LoggedIn.
func (m *Manager) Current() (*model.Session, Lease, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l := Lease{m: m, gen: m.gen}
	if m.state != LoggedIn || m.sess == nil {
		return nil, l, false
	}
	s := *m.sess
	l.userID = s.UserID
	return &s, l, true
}

// Valid reports whether l still refers to the live session.
func (m *Manager) Valid(l Lease) bool {
	_, err := l.Token()
	return err == nil && l.m == m
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// enter marks an attempt in flight. Only a logged-out manager shows
// Authenticating; a live session stays visible until the new one flips in.
// The returned func undoes the mark unless the attempt flipped the session.
func (m *Manager) enter() (restore func()) {
	m.mu.Lock()
	gen := m.gen
	marked := m.state == LoggedOut
	if marked {
		m.state = Authenticating
	}
	m.mu.Unlock()
	if !marked {
		return func() {}
	}
	m.m.SessionState(Authenticating.String())
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen == gen && m.state == Authenticating {
			m.state = LoggedOut
		}
	}
}

// flip replaces the session and starts a new generation. Must run on the loop.
func (m *Manager) flip(s *model.Session) (prev *model.Session) {
	m.mu.Lock()
	prev = m.sess
	m.sess = s
	m.gen++
	if s != nil {
		m.state = LoggedIn
	} else {
		m.state = LoggedOut
	}
	st := m.state
	m.mu.Unlock()
	m.m.SessionState(st.String())
	return prev
}

type rememberMode int

const (
	rememberKeep rememberMode = iota
	rememberSet
	rememberClear
)

// establish persists the token (and the remembered credentials when asked),
// then flips to LoggedIn. Any failed write leaves the manager LoggedOut with
// nothing persisted; a session live before the attempt is signed out locally.
func (m *Manager) establish(ctx context.Context, res *api.AuthResult, email, password string, mode rememberMode) (*model.Session, error) {
	s := m.sessionFrom(res)
	if !s.Valid() {
		return nil, fmt.Errorf("auth response without token or user: %w", errs.ErrUnauthorized)
	}

	var prev, dropped *model.Session
	err := m.loop.Do(ctx, func(ctx context.Context) error {
		if err := m.persist(s.AccessToken, email, password, mode); err != nil {
			dropped = m.abandon(ctx, mode)
			return err
		}
		prev = m.flip(s)
		return nil
	})
	if err != nil {
		if dropped != nil {
			m.log.Warn("previous session signed out after failed sign-in",
				zap.String("user_id", dropped.UserID.String()))
			m.bus.Publish(events.Event{Kind: events.SignedOut, UserID: dropped.UserID})
		}
		return nil, err
	}

	m.log.Info("signed in", zap.String("user_id", s.UserID.String()))
	m.bus.Publish(events.Event{Kind: events.SignedIn, UserID: s.UserID})
	if prev != nil && prev.UserID != s.UserID {
		m.bus.Publish(events.Event{Kind: events.UserSwitched, UserID: s.UserID, PreviousUserID: prev.UserID})
	}
	out := *s
	return &out, nil
}

func (m *Manager) persist(token, email, password string, mode rememberMode) error {
	if err := m.creds.Put(credstore.KeyToken, token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	switch mode {
	case rememberSet:
		if err := m.putRemembered(email, password); err != nil {
			return fmt.Errorf("remember credentials: %w", err)
		}
	case rememberClear:
		if err := m.deleteRemembered(); err != nil {
			return fmt.Errorf("forget credentials: %w", err)
		}
	}
	return nil
}

// abandon rolls back a failed persist. Must run on the loop. It returns the
// session that was live before the attempt, now signed out, if any.
func (m *Manager) abandon(ctx context.Context, mode rememberMode) *model.Session {
	m.mu.RLock()
	live := m.sess != nil
	m.mu.RUnlock()

	var err error
	switch {
	case live:
		err = m.clearLocal(context.WithoutCancel(ctx))
	case mode == rememberSet:
		err = errors.Join(m.creds.Delete(credstore.KeyToken), m.deleteRemembered())
	default:
		err = m.creds.Delete(credstore.KeyToken)
	}
	if err != nil {
		m.log.Error("roll back failed sign-in", zap.Error(err))
	}
	return m.flip(nil)
}

// clearLocal deletes every persisted credential and wipes the local store.
// Must run on the loop.
func (m *Manager) clearLocal(ctx context.Context) error {
	var failed []error
	if err := m.creds.Delete(credstore.KeyToken); err != nil {
		failed = append(failed, fmt.Errorf("delete token: %w", err))
	}
	if err := m.deleteRemembered(); err != nil {
		failed = append(failed, fmt.Errorf("delete remembered credentials: %w", err))
	}
	if m.wiper != nil {
		if err := m.wiper.WipeEverything(ctx); err != nil {
			failed = append(failed, fmt.Errorf("wipe local store: %w", err))
		}
	}
	return errors.Join(failed...)
}

func (m *Manager) sessionFrom(res *api.AuthResult) *model.Session {
	now := m.now().UTC()
	s := &model.Session{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		UserID:       res.UserID,
		Email:        res.Email,
		DisplayName:  res.DisplayName,
		IssuedAt:     now,
	}
	if res.ExpiresIn > 0 {
		s.ExpiresAt = now.Add(res.ExpiresIn)
	}
	if c, ok := readClaims(res.AccessToken); ok {
		if s.UserID == uuid.Nil {
			s.UserID = c.UserID
		}
		if s.Email == "" {
			s.Email = c.Email
		}
		if !c.IssuedAt.IsZero() {
			s.IssuedAt = c.IssuedAt
		}
		if s.ExpiresAt.IsZero() {
			s.ExpiresAt = c.ExpiresAt
		}
	}
	return s
}

func (m *Manager) remembered() (email, password string, ok bool) {
	email, okE, err := m.creds.Get(credstore.KeyRememberEmail)
	if err != nil {
		m.log.Warn("read remembered email", zap.Error(err))
		return "", "", false
	}
	password, okP, err := m.creds.Get(credstore.KeyRememberPassword)
	if err != nil {
		m.log.Warn("read remembered password", zap.Error(err))
		return "", "", false
	}
	return email, password, okE && okP && email != "" && password != ""
}

func (m *Manager) putRemembered(email, password string) error {
	if err := m.creds.Put(credstore.KeyRememberEmail, email); err != nil {
		return err
	}
	return m.creds.Put(credstore.KeyRememberPassword, password)
}

func (m *Manager) deleteRemembered() error {
	e1 := m.creds.Delete(credstore.KeyRememberEmail)
	e2 := m.creds.Delete(credstore.KeyRememberPassword)
	if e1 != nil {
		return e1
	}
	return e2
}
