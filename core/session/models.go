package session

import (
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/maabara/core"
)

// Roles as stored in the provider's custom:role attribute.
const (
	RoleStudent = "student"
	RoleStaff   = "staff"
)

// State is the derived authentication state.
type State int

const (
	Unauthenticated State = iota
	Loading
	Authenticated
	AuthenticatedNeedsName
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	case AuthenticatedNeedsName:
		return "authenticated (name required)"
	default:
		return "unauthenticated"
	}
}

// Session holds the provider token triple and the timestamps that drive
// the refresh policy. The token fields are all-or-nothing: a Session
// missing any one of them forces re-authentication.
type Session struct {
	IDToken           string
	AccessToken       string
	RefreshToken      string
	LastRefreshTime   time.Time
	InitialSignInTime time.Time
}

// HasTokens reports whether the full token triple is present.
func (s Session) HasTokens() bool {
	return s.IDToken != "" && s.AccessToken != "" && s.RefreshToken != ""
}

// IsZero reports whether no session is cached at all.
func (s Session) IsZero() bool {
	return s.IDToken == "" && s.AccessToken == "" && s.RefreshToken == "" &&
		s.LastRefreshTime.IsZero() && s.InitialSignInTime.IsZero()
}

// User is derived from the provider attributes on every successful
// token validation or refresh.
type User struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	StudentID string `json:"studentId,omitempty"`
	FullName  string `json:"fullName,omitempty"`
}

func (u User) IsStaff() bool { return u.Role == RoleStaff }

// AuthState is a read-only snapshot distributed to consumers;
// the Manager is its single writer.
type AuthState struct {
	State State
	User  User
	Err   error
}

func (s AuthState) IsAuthenticated() bool {
	return s.State == Authenticated || s.State == AuthenticatedNeedsName
}

// SignUpInput holds a registration request; the email must carry the
// institution's suffix, checked locally before any provider call.
type SignUpInput struct {
	Email    string `json:"email" validate:"required,email,emailsuffix"`
	Password string `json:"password" validate:"required,min=8"`
}

func (su *SignUpInput) Validate(validate *validator.Validate) error {
	su.Email = core.CleanString(su.Email, true /* lower */)
	return validate.Struct(su)
}

// NameInput collects the user's full name after first sign-in.
type NameInput struct {
	FullName string `json:"fullName" validate:"required"`
}

func (ni *NameInput) Validate(validate *validator.Validate) error {
	ni.FullName = core.CleanString(ni.FullName)
	return validate.Struct(ni)
}

var (
	emailSuffixTag  = "emailsuffix"
	emailSuffixText = "only institutional email addresses are allowed"
)

// InitValidators registers session-specific validators. requiredSuffix is
// the institutional email suffix enforced on sign-up.
func InitValidators(validate *validator.Validate, translator ut.Translator, requiredSuffix string) {
	_ = validate.RegisterValidation(emailSuffixTag, emailSuffixValidation(requiredSuffix))
	core.RegisterCustomTranslation(validate, translator, emailSuffixTag, emailSuffixText)
}

func emailSuffixValidation(suffix string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return hasEmailSuffix(fl.Field().String(), suffix)
	}
}
