package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/petmem/internal/api"
	"github.com/and161185/petmem/internal/credstore"
	"github.com/and161185/petmem/internal/errs"
)

// AutoLogin restores the session at launch. A stored token is validated;
// a rejected token is deleted and remembered credentials, if any, are used
// to sign in again. A throttled call does nothing and returns errs.ErrThrottled.
//
// Having nothing stored is not an error: the manager simply stays logged out.
func (m *Manager) AutoLogin(ctx context.Context) error {
	release, ok := m.throttle.Acquire()
	if !ok {
		return errs.ErrThrottled
	}
	defer release()

	token, ok, err := m.creds.Get(credstore.KeyToken)
	if err != nil {
		m.log.Warn("read stored token", zap.Error(err))
		ok = false
	}

	var rejected error
	if ok && token != "" {
		rejected, err = m.resume(ctx, token)
		if rejected == nil {
			return err
		}
	}

	email, password, ok := m.remembered()
	if !ok {
		return rejected
	}
	if _, err := m.signIn(ctx, email, password, rememberKeep); err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			if derr := m.deleteRemembered(); derr != nil {
				m.log.Warn("forget credentials failed", zap.Error(derr))
			}
		}
		return err
	}
	return nil
}

// resume validates token. It returns rejected != nil when the backend refused
// the token (which is then deleted); err carries every other outcome.
func (m *Manager) resume(ctx context.Context, token string) (rejected, err error) {
	restore := m.enter()
	defer restore()

	res, err := m.primary.Validate(ctx, token)
	if err != nil && api.Unavailable(err) {
		m.log.Warn("gateway validate unavailable, using direct auth", zap.Error(err))
		res, err = m.direct.GetUser(ctx, token)
	}
	if err != nil {
		if api.Unavailable(err) {
			// keep the token; the backend could not judge it
			return nil, fmt.Errorf("validate token: %w", err)
		}
		m.log.Info("stored token rejected", zap.Error(err))
		if derr := m.creds.Delete(credstore.KeyToken); derr != nil {
			m.log.Warn("delete rejected token", zap.Error(derr))
		}
		return fmt.Errorf("validate token: %w", err), nil
	}

	res.AccessToken = token
	_, err = m.establish(ctx, res, "", "", rememberKeep)
	return nil, err
}
