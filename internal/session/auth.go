package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/petmem/internal/api"
	"github.com/and161185/petmem/internal/credstore"
	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/events"
	"github.com/and161185/petmem/internal/model"
)

// SignUpResult is the successful outcome of SignUp. When ConfirmationPending
// is set no session was created and Message tells the user what to do.
type SignUpResult struct {
	Session             *model.Session
	ConfirmationPending bool
	Message             string
}

// ConfirmationMessage is shown when sign-up requires email confirmation.
const ConfirmationMessage = "Check your email to confirm your account, then sign in."

// SignIn authenticates with email and password. The gateway is tried first;
// an unavailable gateway falls back to the direct auth provider. Rejected
// credentials never fall back.
func (m *Manager) SignIn(ctx context.Context, email, password string, remember bool) (*model.Session, error) {
	email = strings.TrimSpace(email)
	if err := m.policy.Email.CheckEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, errs.Invalid("password", "Enter your password.")
	}

	mode := rememberClear
	if remember {
		mode = rememberSet
	}
	return m.signIn(ctx, email, password, mode)
}

func (m *Manager) signIn(ctx context.Context, email, password string, mode rememberMode) (*model.Session, error) {
	restore := m.enter()
	defer restore()

	res, err := m.primary.Login(ctx, email, password)
	if err != nil && api.Unavailable(err) {
		m.log.Warn("gateway login unavailable, using direct auth",
			zap.String("gateway", m.primary.Name()), zap.Error(err))
		res, err = m.direct.SignInWithPassword(ctx, email, password)
	}
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return m.establish(ctx, res, email, password, mode)
}

// SignUp registers a new account. The ladder is primary gateway, alternate
// gateway, then the direct provider. A confirmation-pending answer is a
// success that leaves the manager logged out.
func (m *Manager) SignUp(ctx context.Context, email, password, displayName string) (SignUpResult, error) {
	email = strings.TrimSpace(email)
	if err := m.policy.Email.CheckEmail(email); err != nil {
		return SignUpResult{}, err
	}
	if err := m.policy.Password.CheckPassword(password); err != nil {
		return SignUpResult{}, err
	}
	displayName = strings.TrimSpace(displayName)

	restore := m.enter()
	defer restore()

	res, err := m.primary.Register(ctx, email, password, displayName)
	if err != nil && api.Unavailable(err) && m.alt != nil && m.alt.Configured() {
		m.log.Warn("gateway register unavailable, trying alternate",
			zap.String("gateway", m.primary.Name()), zap.Error(err))
		res, err = m.alt.Register(ctx, email, password, displayName)
	}
	direct := false
	if err != nil && api.Unavailable(err) {
		m.log.Warn("gateway register unavailable, using direct auth", zap.Error(err))
		res, err = m.direct.SignUp(ctx, email, password, displayName)
		direct = true
	}
	if err != nil {
		return SignUpResult{}, fmt.Errorf("sign up: %w", err)
	}

	if res.ConfirmationPending || res.AccessToken == "" {
		m.log.Info("sign-up awaiting email confirmation")
		return SignUpResult{ConfirmationPending: true, Message: ConfirmationMessage}, nil
	}

	s, err := m.establish(ctx, res, email, password, rememberKeep)
	if err != nil {
		return SignUpResult{}, err
	}
	if direct {
		m.upsertProfile(ctx, s, displayName)
	}
	return SignUpResult{Session: s}, nil
}

// upsertProfile creates the profiles row the gateway would have created.
func (m *Manager) upsertProfile(ctx context.Context, s *model.Session, displayName string) {
	if m.profiles == nil {
		return
	}
	row := map[string]any{
		"id":         s.UserID,
		"email":      s.Email,
		"updated_at": m.now(),
	}
	if displayName != "" {
		row["display_name"] = displayName
	}
	if _, err := m.profiles.Upsert(ctx, s.AccessToken, "profiles", "id", row); err != nil {
		m.log.Warn("profile upsert failed", zap.String("user_id", s.UserID.String()), zap.Error(err))
	}
}

// ResetPassword asks the backend to send a reset link.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := m.policy.Email.CheckEmail(email); err != nil {
		return err
	}
	err := m.primary.ResetPassword(ctx, email)
	if err != nil && api.Unavailable(err) {
		m.log.Warn("gateway reset unavailable, using direct auth", zap.Error(err))
		err = m.direct.Recover(ctx, email)
	}
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	return nil
}

// SignOut revokes the session remotely when possible, then always deletes
// persisted credentials and wipes every local row. Local failures are joined.
func (m *Manager) SignOut(ctx context.Context) error {
	if token := m.revocableToken(); token != "" {
		m.remoteLogout(ctx, token)
	}

	// cleanup must not be skipped by a caller deadline
	local := context.WithoutCancel(ctx)
	var prev *model.Session
	err := m.loop.Do(local, func(ctx context.Context) error {
		err := m.clearLocal(ctx)
		prev = m.flip(nil)
		return err
	})

	e := events.Event{Kind: events.SignedOut}
	if prev != nil {
		e.UserID = prev.UserID
	}
	m.bus.Publish(e)
	if err != nil {
		m.log.Error("sign out cleanup", zap.Error(err))
		return err
	}
	m.log.Info("signed out")
	return nil
}

// revocableToken is the live session's token, else the persisted one, e.g.
// a token kept after an offline validation or during a re-authentication.
func (m *Manager) revocableToken() string {
	if s, _, ok := m.Current(); ok {
		return s.AccessToken
	}
	token, ok, err := m.creds.Get(credstore.KeyToken)
	if err != nil || !ok {
		return ""
	}
	return token
}

func (m *Manager) remoteLogout(ctx context.Context, token string) {
	err := m.primary.Logout(ctx, token)
	if err != nil && api.Unavailable(err) {
		err = m.direct.Logout(ctx, token)
	}
	if err != nil {
		m.log.Warn("remote sign out failed", zap.Error(err))
	}
}
