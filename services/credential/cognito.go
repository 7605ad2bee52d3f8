// Package credsvc adapts the session.CredentialStore interface to a
// Cognito-compatible identity provider speaking the x-amz-json-1.1
// protocol. Credential verification, token issuance and attribute
// storage all live at the provider.
package credsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/maabara/core"
	"github.com/trezcool/maabara/core/session"
)

const targetPrefix = "AWSCognitoIdentityProviderService."

type Client struct {
	endpoint string
	clientID string
	client   *http.Client
}

var _ session.CredentialStore = (*Client)(nil)

func NewClient(conf *core.Config, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: conf.HTTPTimeout}
	}
	return &Client{
		endpoint: strings.TrimRight(conf.CredentialEndpoint, "/") + "/",
		clientID: conf.CredentialClientID,
		client:   client,
	}
}

type (
	attribute struct {
		Name  string `json:"Name"`
		Value string `json:"Value"`
	}

	authResult struct {
		IdToken      string `json:"IdToken"`
		AccessToken  string `json:"AccessToken"`
		RefreshToken string `json:"RefreshToken"`
	}
)

func (c *Client) InitiateAuth(ctx context.Context, flow string, params map[string]string) (session.Tokens, error) {
	in := struct {
		AuthFlow       string            `json:"AuthFlow"`
		ClientId       string            `json:"ClientId"`
		AuthParameters map[string]string `json:"AuthParameters"`
	}{flow, c.clientID, params}

	var out struct {
		AuthenticationResult *authResult `json:"AuthenticationResult"`
	}
	if err := c.call(ctx, "InitiateAuth", in, &out); err != nil {
		return session.Tokens{}, err
	}
	if out.AuthenticationResult == nil {
		return session.Tokens{}, errors.New("login failed")
	}
	return session.Tokens{
		IDToken:      out.AuthenticationResult.IdToken,
		AccessToken:  out.AuthenticationResult.AccessToken,
		RefreshToken: out.AuthenticationResult.RefreshToken,
	}, nil
}

func (c *Client) SignUp(ctx context.Context, username, password string, attrs []session.Attribute) error {
	in := struct {
		ClientId       string      `json:"ClientId"`
		Username       string      `json:"Username"`
		Password       string      `json:"Password"`
		UserAttributes []attribute `json:"UserAttributes"`
	}{c.clientID, username, password, toWireAttrs(attrs)}
	return c.call(ctx, "SignUp", in, nil)
}

func (c *Client) ConfirmSignUp(ctx context.Context, username, code string) error {
	in := struct {
		ClientId         string `json:"ClientId"`
		Username         string `json:"Username"`
		ConfirmationCode string `json:"ConfirmationCode"`
	}{c.clientID, username, code}
	return c.call(ctx, "ConfirmSignUp", in, nil)
}

func (c *Client) ResendConfirmationCode(ctx context.Context, username string) error {
	in := struct {
		ClientId string `json:"ClientId"`
		Username string `json:"Username"`
	}{c.clientID, username}
	return c.call(ctx, "ResendConfirmationCode", in, nil)
}

func (c *Client) ForgotPassword(ctx context.Context, username string) error {
	in := struct {
		ClientId string `json:"ClientId"`
		Username string `json:"Username"`
	}{c.clientID, username}
	return c.call(ctx, "ForgotPassword", in, nil)
}

func (c *Client) ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error {
	in := struct {
		ClientId         string `json:"ClientId"`
		Username         string `json:"Username"`
		ConfirmationCode string `json:"ConfirmationCode"`
		Password         string `json:"Password"`
	}{c.clientID, username, code, newPassword}
	return c.call(ctx, "ConfirmForgotPassword", in, nil)
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (string, []session.Attribute, error) {
	in := struct {
		AccessToken string `json:"AccessToken"`
	}{accessToken}

	var out struct {
		Username       string      `json:"Username"`
		UserAttributes []attribute `json:"UserAttributes"`
	}
	if err := c.call(ctx, "GetUser", in, &out); err != nil {
		return "", nil, err
	}
	attrs := make([]session.Attribute, 0, len(out.UserAttributes))
	for _, a := range out.UserAttributes {
		attrs = append(attrs, session.Attribute{Name: a.Name, Value: a.Value})
	}
	return out.Username, attrs, nil
}

func (c *Client) GlobalSignOut(ctx context.Context, accessToken string) error {
	in := struct {
		AccessToken string `json:"AccessToken"`
	}{accessToken}
	return c.call(ctx, "GlobalSignOut", in, nil)
}

func (c *Client) call(ctx context.Context, op string, in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "marshaling %s request", op)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return errors.Wrapf(err, "building %s request", op)
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", targetPrefix+op)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "calling %s", op)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading %s response", op)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeProviderError(body)
	}
	if out != nil && len(body) > 0 {
		if err = json.Unmarshal(body, out); err != nil {
			return errors.Wrapf(err, "decoding %s response", op)
		}
	}
	return nil
}

// decodeProviderError turns a provider error body ({"__type","message"})
// into a session.ProviderError, keeping the raw text when it does not parse.
func decodeProviderError(body []byte) error {
	var pe struct {
		Type    string `json:"__type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &pe); err != nil || pe.Type == "" {
		return &session.ProviderError{Code: "Unknown", Message: strings.TrimSpace(string(body))}
	}
	// the type may be namespaced, e.g. "com.amazon...#NotAuthorizedException"
	code := pe.Type
	if i := strings.LastIndex(code, "#"); i >= 0 {
		code = code[i+1:]
	}
	return &session.ProviderError{Code: code, Message: pe.Message}
}

func toWireAttrs(attrs []session.Attribute) []attribute {
	out := make([]attribute, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, attribute{Name: a.Name, Value: a.Value})
	}
	return out
}
