package server

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is returned by an Authorizer that rejects a request.
var ErrUnauthorized = errors.New("server: unauthorized")

// Authorizer decides whether a request may read the wiki. It returns the
// authenticated user name, or an error wrapping ErrUnauthorized.
type Authorizer interface {
	Authorize(r *http.Request) (string, error)
	// Challenge is the WWW-Authenticate value sent with a 401.
	Challenge() string
}

// BasicAuth checks HTTP basic credentials against bcrypt hashes.
type BasicAuth struct {
	Realm string
	// Users maps user names to bcrypt password hashes.
	Users map[string]string
}

func (a *BasicAuth) Authorize(r *http.Request) (string, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", fmt.Errorf("%w: no credentials", ErrUnauthorized)
	}
	hash, known := a.Users[user]
	if !known {
		// Unknown users pay for a comparison too.
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(pass))
		return "", fmt.Errorf("%w: unknown user %q", ErrUnauthorized, user)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)); err != nil {
		return "", fmt.Errorf("%w: bad password for %q", ErrUnauthorized, user)
	}
	return user, nil
}

func (a *BasicAuth) Challenge() string {
	realm := a.Realm
	if realm == "" {
		realm = "wiki"
	}
	return fmt.Sprintf("Basic realm=%q", realm)
}

// HashPassword returns a bcrypt hash suitable for BasicAuth.Users.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("gitaccess"), bcrypt.DefaultCost)
	return h
})
