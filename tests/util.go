// Package testutil hosts in-process fakes for the portal's two external
// collaborators, the Credential Store and the course backend, plus small
// assertion helpers shared across test packages.
package testutil

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pmezard/go-difflib/difflib"
)

// jwtTestKey signs the tokens issued by the fake Credential Store and
// verified by the fake backend.
var jwtTestKey = []byte("maabara-test-signing-key")

// TokenClaims mirrors the identity claims the provider embeds in an
// ID token.
type TokenClaims struct {
	jwt.StandardClaims
	Email     string `json:"email,omitempty"`
	Role      string `json:"custom:role,omitempty"`
	StudentID string `json:"custom:studentId,omitempty"`
	FullName  string `json:"custom:fullName,omitempty"`
	TokenUse  string `json:"token_use,omitempty"` // id|access
}

func SignTestToken(claims *TokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtTestKey)
}

func ParseTestToken(tokenString string) (*TokenClaims, error) {
	claims := new(TokenClaims)
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return jwtTestKey, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func MarshallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("MarshallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

// AssertJSONEqual compares two JSON documents structurally and reports a
// unified diff on mismatch.
func AssertJSONEqual(t *testing.T, got, want []byte) {
	t.Helper()
	ok, err := jsonBytesEqual(got, want)
	if err != nil {
		t.Fatalf("AssertJSONEqual() failed to compare: %v", err)
	}
	if ok {
		return
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(indentJSON(want)),
		B:        difflib.SplitLines(indentJSON(got)),
		FromFile: "want",
		ToFile:   "got",
		Context:  3,
	})
	t.Errorf("JSON mismatch:\n%s", diff)
}

func indentJSON(data []byte) string {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(data)
	}
	return string(out) + "\n"
}

// Tick returns successive timestamps spaced a minute apart, handy for
// deterministic ordering in fixtures.
func Tick(base time.Time, n int) time.Time {
	return base.Add(time.Duration(n) * time.Minute)
}
