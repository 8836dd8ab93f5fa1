// Package auth checks request credentials against the session access
// credential.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

const (
	HeaderAPIKey = "X-API-Key"
	QueryAPIKey  = "api_key"
)

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// CredentialSource exposes the issued access credential, if any.
type CredentialSource interface {
	Credential() (string, bool)
}

// SessionCredential accepts any token until the session has issued a
// credential, then requires an exact match. When Required is false every
// token passes.
type SessionCredential struct {
	Source   CredentialSource
	Required bool
}

func (s SessionCredential) Validate(token string) error {
	if !s.Required || s.Source == nil {
		return nil
	}
	credential, ok := s.Source.Credential()
	if !ok {
		return nil
	}
	return compare(credential, token)
}

// TokenFromRequest extracts a token from the Authorization bearer header,
// the X-API-Key header or the api_key query parameter, in that order.
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return key
	}
	if r.URL != nil {
		return strings.TrimSpace(r.URL.Query().Get(QueryAPIKey))
	}
	return ""
}

func compare(want, got string) error {
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
