package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/maabara/core"
)

type (
	// AttributeUpdater persists user attributes through the course backend
	// rather than the Credential Store directly; the backend also
	// denormalizes the name into existing submission records.
	AttributeUpdater interface {
		UpdateAttributes(ctx context.Context, idToken, accessToken, fullName string) error
	}

	// Manager owns the authentication state machine. It is the single
	// writer of AuthState; consumers read snapshots via State or Watch.
	Manager struct {
		store    CredentialStore
		cache    TokenCache
		backend  AttributeUpdater
		conf     *core.Config
		logger   core.Logger
		validate *validator.Validate

		nowFunc func() time.Time // mockable

		mu       sync.Mutex
		state    AuthState
		watchers []func(AuthState)
	}
)

func NewManager(
	store CredentialStore,
	cache TokenCache,
	backend AttributeUpdater,
	conf *core.Config,
	logger core.Logger,
	validate *validator.Validate,
) *Manager {
	return &Manager{
		store:    store,
		cache:    cache,
		backend:  backend,
		conf:     conf,
		logger:   logger,
		validate: validate,
		nowFunc:  time.Now,
		state:    AuthState{State: Loading},
	}
}

// State returns a read-only snapshot of the current auth state.
func (m *Manager) State() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Watch registers fn to be called with every state change.
func (m *Manager) Watch(fn func(AuthState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

func (m *Manager) setState(st AuthState) {
	m.mu.Lock()
	m.state = st
	watchers := make([]func(AuthState), len(m.watchers))
	copy(watchers, m.watchers)
	m.mu.Unlock()

	for _, fn := range watchers {
		fn(st)
	}
}

// IDToken returns the cached id token for backend calls,
// or ErrNotAuthenticated when none is present.
func (m *Manager) IDToken() (string, error) {
	sess, err := m.cache.Load()
	if err != nil {
		return "", errors.Wrap(err, "loading token cache")
	}
	if sess.IDToken == "" {
		return "", ErrNotAuthenticated
	}
	return sess.IDToken, nil
}

// SignIn exchanges credentials for a token triple, persists it along with
// fresh timestamps, and derives the user from the provider attributes.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	m.setState(AuthState{State: Loading})

	email = core.CleanString(email, true /* lower */)
	tokens, err := m.store.InitiateAuth(ctx, FlowUserPassword, map[string]string{
		ParamUsername: email,
		ParamPassword: password,
	})
	if err != nil {
		if isCredentialRejection(err) {
			// keep the raw provider message; sign-up quota guidance depends on it
			err = errors.Wrap(ErrInvalidCredentials, err.Error())
		} else {
			err = remapProviderError(err)
		}
		m.setState(AuthState{State: Unauthenticated, Err: err})
		return err
	}

	now := m.nowFunc()
	sess := Session{
		IDToken:           tokens.IDToken,
		AccessToken:       tokens.AccessToken,
		RefreshToken:      tokens.RefreshToken,
		LastRefreshTime:   now,
		InitialSignInTime: now,
	}
	if err = m.cache.Save(sess); err != nil {
		return errors.Wrap(err, "persisting session")
	}

	usr, err := m.fetchUser(ctx, tokens.AccessToken)
	if err != nil {
		m.setState(AuthState{State: Unauthenticated, Err: err})
		return err
	}
	m.setAuthenticated(usr)
	return nil
}

// SignOut revokes the session globally on a best-effort basis and
// unconditionally clears local state. It is idempotent: signing out with
// no session present is a no-op success.
func (m *Manager) SignOut(ctx context.Context) error {
	sess, err := m.cache.Load()
	if err != nil {
		m.logger.Warn(fmt.Sprintf("loading token cache on sign-out: %v", err))
	}
	if sess.AccessToken != "" {
		if err = m.store.GlobalSignOut(ctx, sess.AccessToken); err != nil {
			// revocation failure must not block local cleanup
			m.logger.Warn(fmt.Sprintf("global sign-out failed: %v", err))
		}
	}
	if err = m.cache.Clear(); err != nil {
		return errors.Wrap(err, "clearing token cache")
	}
	m.setState(AuthState{State: Unauthenticated})
	return nil
}

// SignUp registers a new account with the Credential Store. Emails outside
// the institution's domain are rejected locally, before any network call.
// Registration requires separate confirmation; auth state is untouched.
func (m *Manager) SignUp(ctx context.Context, email, password string) error {
	data := SignUpInput{Email: email, Password: password}
	if err := data.Validate(m.validate); err != nil {
		return err
	}
	if !hasEmailSuffix(data.Email, m.conf.RequiredEmailSuffix) {
		return ErrInvalidDomain
	}

	attrs := []Attribute{
		{Name: AttrEmail, Value: data.Email},
		{Name: AttrRole, Value: RoleStudent},
	}
	return remapProviderError(m.store.SignUp(ctx, data.Email, data.Password, attrs))
}

func (m *Manager) ConfirmSignUp(ctx context.Context, email, code string) error {
	return remapProviderError(m.store.ConfirmSignUp(ctx, core.CleanString(email, true), code))
}

func (m *Manager) ResendVerificationCode(ctx context.Context, email string) error {
	return remapProviderError(m.store.ResendConfirmationCode(ctx, core.CleanString(email, true)))
}

func (m *Manager) ForgotPassword(ctx context.Context, email string) error {
	return remapProviderError(m.store.ForgotPassword(ctx, core.CleanString(email, true)))
}

func (m *Manager) ConfirmForgotPassword(ctx context.Context, email, code, newPassword string) error {
	return remapProviderError(m.store.ConfirmForgotPassword(ctx, core.CleanString(email, true), code, newPassword))
}

// RefreshTokens exchanges the refresh token for new id/access tokens,
// stamps LastRefreshTime and re-derives the user. Provider errors are
// rethrown untouched; the caller decides whether to sign out.
func (m *Manager) RefreshTokens(ctx context.Context, refreshToken string) error {
	tokens, err := m.store.InitiateAuth(ctx, FlowRefreshToken, map[string]string{
		ParamRefreshToken: refreshToken,
	})
	if err != nil {
		return err
	}

	sess, err := m.cache.Load()
	if err != nil {
		return errors.Wrap(err, "loading token cache")
	}
	sess.IDToken = tokens.IDToken
	sess.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		sess.RefreshToken = tokens.RefreshToken
	}
	sess.LastRefreshTime = m.nowFunc()
	if err = m.cache.Save(sess); err != nil {
		return errors.Wrap(err, "persisting session")
	}

	usr, err := m.fetchUser(ctx, tokens.AccessToken)
	if err != nil {
		return err
	}
	m.setAuthenticated(usr)
	return nil
}

// UpdateUserAttributes persists the user's full name through the backend
// and clears the needs-name state. Both tokens are required: the backend
// authenticates with the id token and forwards the access token to the
// Credential Store.
func (m *Manager) UpdateUserAttributes(ctx context.Context, fullName string) error {
	data := NameInput{FullName: fullName}
	if err := data.Validate(m.validate); err != nil {
		return err
	}

	sess, err := m.cache.Load()
	if err != nil {
		return errors.Wrap(err, "loading token cache")
	}
	if sess.IDToken == "" || sess.AccessToken == "" {
		return ErrNotAuthenticated
	}

	if err = m.backend.UpdateAttributes(ctx, sess.IDToken, sess.AccessToken, data.FullName); err != nil {
		return err
	}

	m.mu.Lock()
	usr := m.state.User
	m.mu.Unlock()
	usr.FullName = data.FullName
	m.setState(AuthState{State: Authenticated, User: usr})
	return nil
}

// CheckAuthState re-derives validity from the cached tokens on startup,
// before trusting them: session-age ceiling first, then refresh when the
// access/id tokens are missing or stale, then direct validation with
// refresh as the fallback.
func (m *Manager) CheckAuthState(ctx context.Context) error {
	sess, err := m.cache.Load()
	if err != nil {
		m.logger.Warn(fmt.Sprintf("loading token cache: %v", err))
	}

	// hard ceiling: refresh cannot extend a session past SessionMaxAge
	if !sess.InitialSignInTime.IsZero() && m.nowFunc().Sub(sess.InitialSignInTime) > m.conf.SessionMaxAge {
		m.logger.Info("session exceeded max age, signing out")
		return m.SignOut(ctx)
	}

	// a refresh token without valid access/id tokens: refresh first
	if sess.RefreshToken != "" && (sess.AccessToken == "" || sess.IDToken == "") {
		if err = m.RefreshTokens(ctx, sess.RefreshToken); err != nil {
			m.logger.Warn(fmt.Sprintf("refreshing tokens on startup: %v", err))
			return m.SignOut(ctx)
		}
		return nil
	}

	if sess.IDToken == "" || sess.AccessToken == "" {
		// no tokens at all
		if err = m.cache.Clear(); err != nil {
			m.logger.Warn(fmt.Sprintf("clearing token cache: %v", err))
		}
		m.setState(AuthState{State: Unauthenticated})
		return nil
	}

	// silent refresh when one is due within the threshold window
	if sess.RefreshToken != "" && !sess.LastRefreshTime.IsZero() {
		if m.nowFunc().Sub(sess.LastRefreshTime) > m.conf.TokenExpiration-m.conf.RefreshThreshold {
			if err = m.RefreshTokens(ctx, sess.RefreshToken); err == nil {
				return nil
			}
			// tokens may still be valid; fall through to direct validation
			m.logger.Warn(fmt.Sprintf("refreshing tokens: %v", err))
		}
	}

	usr, err := m.fetchUser(ctx, sess.AccessToken)
	if err != nil {
		// invalid access token; refresh is the last resort
		if sess.RefreshToken != "" {
			if rErr := m.RefreshTokens(ctx, sess.RefreshToken); rErr == nil {
				return nil
			}
		}
		return m.SignOut(ctx)
	}
	m.setAuthenticated(usr)

	// backfill timestamps missing from older caches
	if sess.LastRefreshTime.IsZero() || sess.InitialSignInTime.IsZero() {
		now := m.nowFunc()
		if sess.LastRefreshTime.IsZero() {
			sess.LastRefreshTime = now
		}
		if sess.InitialSignInTime.IsZero() {
			sess.InitialSignInTime = now
		}
		if err = m.cache.Save(sess); err != nil {
			m.logger.Warn(fmt.Sprintf("persisting session timestamps: %v", err))
		}
	}
	return nil
}

// refreshIfNeeded is the periodic check. A failed refresh only forces
// sign-out once the tokens are certainly dead; otherwise the next tick
// retries.
func (m *Manager) refreshIfNeeded(ctx context.Context) {
	if !m.State().IsAuthenticated() {
		return
	}

	sess, err := m.cache.Load()
	if err != nil {
		m.logger.Warn(fmt.Sprintf("loading token cache: %v", err))
		return
	}

	if !sess.InitialSignInTime.IsZero() && m.nowFunc().Sub(sess.InitialSignInTime) > m.conf.SessionMaxAge {
		m.logger.Info("session exceeded max age, signing out")
		if err = m.SignOut(ctx); err != nil {
			m.logger.Error(fmt.Sprintf("signing out: %v", err), err)
		}
		return
	}

	if sess.RefreshToken == "" || sess.LastRefreshTime.IsZero() {
		return
	}

	sinceRefresh := m.nowFunc().Sub(sess.LastRefreshTime)
	if sinceRefresh <= m.conf.TokenExpiration-m.conf.RefreshThreshold {
		return
	}
	if err = m.RefreshTokens(ctx, sess.RefreshToken); err != nil {
		m.logger.Warn(fmt.Sprintf("refreshing tokens: %v", err))
		if sinceRefresh > m.conf.TokenExpiration {
			if err = m.SignOut(ctx); err != nil {
				m.logger.Error(fmt.Sprintf("signing out: %v", err), err)
			}
		}
	}
}

func (m *Manager) setAuthenticated(usr User) {
	st := Authenticated
	if usr.FullName == "" {
		// the one user-facing effect of an unset attribute
		st = AuthenticatedNeedsName
	}
	m.setState(AuthState{State: st, User: usr})
}

func (m *Manager) fetchUser(ctx context.Context, accessToken string) (User, error) {
	username, attrs, err := m.store.GetUser(ctx, accessToken)
	if err != nil {
		return User{}, err
	}
	if username == "" {
		return User{}, errors.New("invalid user data")
	}
	return parseUserAttributes(attrs), nil
}

// parseUserAttributes derives the portal user from provider attributes;
// role defaults to student, username falls back to the email address.
func parseUserAttributes(attrs []Attribute) User {
	get := func(name string) string {
		for _, attr := range attrs {
			if attr.Name == name {
				return attr.Value
			}
		}
		return ""
	}

	usr := User{
		Username:  get(AttrPreferredUsername),
		Role:      get(AttrRole),
		StudentID: get(AttrStudentID),
		FullName:  get(AttrFullName),
	}
	if usr.Username == "" {
		usr.Username = get(AttrEmail)
	}
	if usr.Role == "" {
		usr.Role = RoleStudent
	}
	return usr
}
