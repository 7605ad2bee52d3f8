package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/maabara/core/session"
)

// ConfirmationCode is the fixed code the fake provider mails out.
const ConfirmationCode = "123456"

type providerAccount struct {
	username     string
	email        string
	passwordHash []byte
	attrs        map[string]string
	confirmed    bool
	refreshToken string
}

// CredentialProvider is an in-process stand-in for the identity provider,
// speaking the same x-amz-json-1.1 protocol the real one does. Accounts
// live in memory; passwords are bcrypt-hashed.
type CredentialProvider struct {
	Server *httptest.Server

	mu       sync.Mutex
	accounts map[string]*providerAccount // keyed by email
	revoked  map[string]bool             // revoked access tokens
	calls    map[string]int

	// failure switches
	AttemptLimited bool // password reset flows fail with AttemptLimitExceededException
	QuotaExceeded  bool // sign-ups fail with TooManyRequestsException
	TokenTTL       time.Duration
}

func NewCredentialProvider() *CredentialProvider {
	p := &CredentialProvider{
		accounts: make(map[string]*providerAccount),
		revoked:  make(map[string]bool),
		calls:    make(map[string]int),
		TokenTTL: time.Hour,
	}
	app := echo.New()
	app.HideBanner = true
	app.POST("/", p.dispatch)
	p.Server = httptest.NewServer(app)
	return p
}

func (p *CredentialProvider) Close() { p.Server.Close() }

// Calls reports how many times the named operation was invoked.
func (p *CredentialProvider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// AddAccount registers a confirmed account directly, bypassing the
// sign-up flow.
func (p *CredentialProvider) AddAccount(email, password string, attrs map[string]string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	if attrs == nil {
		attrs = make(map[string]string)
	}
	if _, ok := attrs[session.AttrEmail]; !ok {
		attrs[session.AttrEmail] = email
	}
	p.mu.Lock()
	p.accounts[strings.ToLower(email)] = &providerAccount{
		username:     uuid.New().String(),
		email:        strings.ToLower(email),
		passwordHash: hash,
		attrs:        attrs,
		confirmed:    true,
	}
	p.mu.Unlock()
}

// SetAttribute mutates a stored account attribute, as the backend's
// update-attributes endpoint would.
func (p *CredentialProvider) SetAttribute(email, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if acct, ok := p.accounts[strings.ToLower(email)]; ok {
		acct.attrs[name] = value
	}
}

func (p *CredentialProvider) dispatch(c echo.Context) error {
	target := c.Request().Header.Get("X-Amz-Target")
	op := strings.TrimPrefix(target, "AWSCognitoIdentityProviderService.")

	// clients send application/x-amz-json-1.1; echo's Bind only decodes
	// application/json, so normalize the header before binding
	c.Request().Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	p.mu.Lock()
	p.calls[op]++
	p.mu.Unlock()

	switch op {
	case "InitiateAuth":
		return p.initiateAuth(c)
	case "SignUp":
		return p.signUp(c)
	case "ConfirmSignUp":
		return p.confirmSignUp(c)
	case "ResendConfirmationCode":
		return p.resendConfirmationCode(c)
	case "ForgotPassword", "ConfirmForgotPassword":
		return p.forgotPassword(c)
	case "GetUser":
		return p.getUser(c)
	case "GlobalSignOut":
		return p.globalSignOut(c)
	}
	return providerError(c, http.StatusBadRequest, "UnknownOperationException", "unknown operation "+op)
}

func (p *CredentialProvider) initiateAuth(c echo.Context) error {
	var req struct {
		AuthFlow       string            `json:"AuthFlow"`
		AuthParameters map[string]string `json:"AuthParameters"`
	}
	if err := c.Bind(&req); err != nil {
		return providerError(c, http.StatusBadRequest, "InvalidParameterException", err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.AuthFlow {
	case session.FlowUserPassword:
		email := strings.ToLower(req.AuthParameters[session.ParamUsername])
		acct, ok := p.accounts[email]
		if !ok {
			return providerError(c, http.StatusBadRequest, "UserNotFoundException", "User does not exist.")
		}
		if err := bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(req.AuthParameters[session.ParamPassword])); err != nil {
			return providerError(c, http.StatusBadRequest, "NotAuthorizedException", "Incorrect username or password.")
		}
		if !acct.confirmed {
			return providerError(c, http.StatusBadRequest, "UserNotConfirmedException", "User is not confirmed.")
		}
		acct.refreshToken = uuid.New().String()
		return p.issueTokens(c, acct, acct.refreshToken)

	case session.FlowRefreshToken:
		token := req.AuthParameters[session.ParamRefreshToken]
		for _, acct := range p.accounts {
			if acct.refreshToken != "" && acct.refreshToken == token {
				// refresh responses omit the refresh token; the old one stays valid
				return p.issueTokens(c, acct, "")
			}
		}
		return providerError(c, http.StatusBadRequest, "NotAuthorizedException", "Refresh Token has been revoked")
	}
	return providerError(c, http.StatusBadRequest, "InvalidParameterException", "unsupported flow "+req.AuthFlow)
}

// issueTokens must be called with p.mu held.
func (p *CredentialProvider) issueTokens(c echo.Context, acct *providerAccount, refreshToken string) error {
	now := time.Now()
	base := jwt.StandardClaims{
		// unique jti so tokens for the same account issued within the
		// same second don't serialize identically (revocation is keyed
		// by token string)
		Id:        uuid.New().String(),
		Subject:   acct.username,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(p.TokenTTL).Unix(),
	}
	idToken, err := SignTestToken(&TokenClaims{
		StandardClaims: base,
		Email:          acct.email,
		Role:           acct.attrs[session.AttrRole],
		StudentID:      acct.attrs[session.AttrStudentID],
		FullName:       acct.attrs[session.AttrFullName],
		TokenUse:       "id",
	})
	if err != nil {
		return providerError(c, http.StatusInternalServerError, "InternalErrorException", err.Error())
	}
	accessToken, err := SignTestToken(&TokenClaims{StandardClaims: base, TokenUse: "access"})
	if err != nil {
		return providerError(c, http.StatusInternalServerError, "InternalErrorException", err.Error())
	}

	result := map[string]string{
		"IdToken":     idToken,
		"AccessToken": accessToken,
	}
	if refreshToken != "" {
		result["RefreshToken"] = refreshToken
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"AuthenticationResult": result})
}

func (p *CredentialProvider) signUp(c echo.Context) error {
	var req struct {
		Username       string `json:"Username"`
		Password       string `json:"Password"`
		UserAttributes []struct {
			Name  string `json:"Name"`
			Value string `json:"Value"`
		} `json:"UserAttributes"`
	}
	if err := c.Bind(&req); err != nil {
		return providerError(c, http.StatusBadRequest, "InvalidParameterException", err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.QuotaExceeded {
		return providerError(c, http.StatusBadRequest, "TooManyRequestsException", "Too many requests")
	}
	email := strings.ToLower(req.Username)
	if _, ok := p.accounts[email]; ok {
		return providerError(c, http.StatusBadRequest, "UsernameExistsException", "An account with the given email already exists.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return providerError(c, http.StatusInternalServerError, "InternalErrorException", err.Error())
	}
	attrs := make(map[string]string, len(req.UserAttributes))
	for _, a := range req.UserAttributes {
		attrs[a.Name] = a.Value
	}
	p.accounts[email] = &providerAccount{
		username:     uuid.New().String(),
		email:        email,
		passwordHash: hash,
		attrs:        attrs,
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"UserConfirmed": false})
}

func (p *CredentialProvider) confirmSignUp(c echo.Context) error {
	var req struct {
		Username         string `json:"Username"`
		ConfirmationCode string `json:"ConfirmationCode"`
	}
	if err := c.Bind(&req); err != nil {
		return providerError(c, http.StatusBadRequest, "InvalidParameterException", err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[strings.ToLower(req.Username)]
	if !ok {
		return providerError(c, http.StatusBadRequest, "UserNotFoundException", "User does not exist.")
	}
	if req.ConfirmationCode != ConfirmationCode {
		return providerError(c, http.StatusBadRequest, "CodeMismatchException", "Invalid verification code provided, please try again.")
	}
	acct.confirmed = true
	return c.JSON(http.StatusOK, map[string]interface{}{})
}

func (p *CredentialProvider) resendConfirmationCode(c echo.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AttemptLimited {
		return providerError(c, http.StatusBadRequest, "LimitExceededException", "Attempt limit exceeded, please try after some time.")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{})
}

func (p *CredentialProvider) forgotPassword(c echo.Context) error {
	var req struct {
		Username         string `json:"Username"`
		ConfirmationCode string `json:"ConfirmationCode"`
		Password         string `json:"Password"`
	}
	if err := c.Bind(&req); err != nil {
		return providerError(c, http.StatusBadRequest, "InvalidParameterException", err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.AttemptLimited {
		return providerError(c, http.StatusBadRequest, "LimitExceededException", "Attempt limit exceeded, please try after some time.")
	}
	acct, ok := p.accounts[strings.ToLower(req.Username)]
	if !ok {
		return providerError(c, http.StatusBadRequest, "UserNotFoundException", "User does not exist.")
	}
	if req.Password != "" {
		if req.ConfirmationCode != ConfirmationCode {
			return providerError(c, http.StatusBadRequest, "CodeMismatchException", "Invalid verification code provided, please try again.")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
		if err != nil {
			return providerError(c, http.StatusInternalServerError, "InternalErrorException", err.Error())
		}
		acct.passwordHash = hash
	}
	return c.JSON(http.StatusOK, map[string]interface{}{})
}

func (p *CredentialProvider) getUser(c echo.Context) error {
	var req struct {
		AccessToken string `json:"AccessToken"`
	}
	if err := c.Bind(&req); err != nil {
		return providerError(c, http.StatusBadRequest, "InvalidParameterException", err.Error())
	}

	claims, err := ParseTestToken(req.AccessToken)
	if err != nil {
		return providerError(c, http.StatusBadRequest, "NotAuthorizedException", "Invalid Access Token")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.revoked[req.AccessToken] {
		return providerError(c, http.StatusBadRequest, "NotAuthorizedException", "Access Token has been revoked")
	}
	for _, acct := range p.accounts {
		if acct.username == claims.Subject {
			attrs := make([]map[string]string, 0, len(acct.attrs))
			for name, value := range acct.attrs {
				attrs = append(attrs, map[string]string{"Name": name, "Value": value})
			}
			return c.JSON(http.StatusOK, map[string]interface{}{
				"Username":       acct.username,
				"UserAttributes": attrs,
			})
		}
	}
	return providerError(c, http.StatusBadRequest, "UserNotFoundException", "User does not exist.")
}

func (p *CredentialProvider) globalSignOut(c echo.Context) error {
	var req struct {
		AccessToken string `json:"AccessToken"`
	}
	if err := c.Bind(&req); err != nil {
		return providerError(c, http.StatusBadRequest, "InvalidParameterException", err.Error())
	}

	claims, err := ParseTestToken(req.AccessToken)
	if err != nil {
		return providerError(c, http.StatusBadRequest, "NotAuthorizedException", "Invalid Access Token")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.revoked[req.AccessToken] = true
	for _, acct := range p.accounts {
		if acct.username == claims.Subject {
			acct.refreshToken = ""
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{})
}

func providerError(c echo.Context, code int, errType, msg string) error {
	return c.JSON(code, map[string]string{"__type": errType, "message": msg})
}
