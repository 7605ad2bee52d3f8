package session

import (
	"context"
	"errors"
	"strings"
)

// Auth flows understood by the Credential Store.
const (
	FlowUserPassword = "USER_PASSWORD_AUTH"
	FlowRefreshToken = "REFRESH_TOKEN_AUTH"
)

// Auth parameter names.
const (
	ParamUsername     = "USERNAME"
	ParamPassword     = "PASSWORD"
	ParamRefreshToken = "REFRESH_TOKEN"
)

// Attribute names used by the portal.
const (
	AttrEmail             = "email"
	AttrPreferredUsername = "preferred_username"
	AttrRole              = "custom:role"
	AttrStudentID         = "custom:studentId"
	AttrFullName          = "custom:fullName"
)

var (
	// errors
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrInvalidDomain      = errors.New("only institutional email addresses are allowed")
	ErrNotAuthenticated   = errors.New("no authentication tokens found")
	ErrAttemptLimit       = errors.New("too many attempts; please wait a while before trying again")
	ErrQuotaExceeded      = errors.New("sign-up limit reached; please contact the course staff")
)

type (
	// Tokens is the triple issued by the Credential Store. RefreshToken
	// is empty on a refresh-flow response; the previous one stays valid.
	Tokens struct {
		IDToken      string
		AccessToken  string
		RefreshToken string
	}

	// Attribute is a single provider user attribute.
	Attribute struct {
		Name  string
		Value string
	}

	// CredentialStore is the external identity provider, consumed at its
	// interface only; credential verification and token issuance live there.
	CredentialStore interface {
		InitiateAuth(ctx context.Context, flow string, params map[string]string) (Tokens, error)
		SignUp(ctx context.Context, username, password string, attrs []Attribute) error
		ConfirmSignUp(ctx context.Context, username, code string) error
		ResendConfirmationCode(ctx context.Context, username string) error
		ForgotPassword(ctx context.Context, username string) error
		ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error
		GetUser(ctx context.Context, accessToken string) (username string, attrs []Attribute, err error)
		GlobalSignOut(ctx context.Context, accessToken string) error
	}
)

// ProviderError is a provider-shaped failure, passed through untouched
// except for the few remappings below.
type ProviderError struct {
	Code    string // e.g. NotAuthorizedException
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

// remapProviderError recognizes quota and attempt-limit provider errors by
// substring match and remaps them to user-facing guidance; anything else
// passes through verbatim.
func remapProviderError(err error) error {
	if err == nil {
		return nil
	}
	var pErr *ProviderError
	if !errors.As(err, &pErr) {
		return err
	}
	text := pErr.Code + " " + pErr.Message
	switch {
	case strings.Contains(text, "AttemptLimitExceeded"),
		strings.Contains(text, "Attempt limit exceeded"):
		return ErrAttemptLimit
	case strings.Contains(text, "LimitExceeded"),
		strings.Contains(text, "TooManyRequests"):
		return ErrQuotaExceeded
	}
	return err
}

// isCredentialRejection reports whether the provider rejected the
// email/password pair itself.
func isCredentialRejection(err error) bool {
	var pErr *ProviderError
	if !errors.As(err, &pErr) {
		return false
	}
	switch pErr.Code {
	case "NotAuthorizedException", "UserNotFoundException":
		return true
	}
	return false
}

func hasEmailSuffix(email, suffix string) bool {
	return suffix != "" && strings.HasSuffix(strings.ToLower(email), strings.ToLower(suffix))
}
