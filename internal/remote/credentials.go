package remote

import (
	"context"
	"os"
)

// Credentials identify the signed-in user. An empty Token means signed out.
type Credentials struct {
	Token string
	Login string
}

// Authenticated reports whether a token is present.
func (c Credentials) Authenticated() bool {
	return c.Token != ""
}

// CredentialSource yields the current credentials. Token acquisition and
// refresh are the source's business; callers only read.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials always returns itself.
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// EnvCredentials reads the token from an environment variable on every call.
type EnvCredentials struct {
	TokenEnv string
	Login    string
}

func (e EnvCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials{Token: os.Getenv(e.TokenEnv), Login: e.Login}, nil
}

// FirstOf tries each source in order and returns the first authenticated
// result. Errors from earlier sources are skipped; the last error is returned
// only when nothing authenticated.
type FirstOf []CredentialSource

func (f FirstOf) Credentials(ctx context.Context) (Credentials, error) {
	var lastErr error
	var best Credentials
	for _, src := range f {
		c, err := src.Credentials(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if c.Authenticated() {
			if c.Login == "" {
				c.Login = best.Login
			}
			return c, nil
		}
		if best.Login == "" {
			best.Login = c.Login
		}
	}
	return best, lastErr
}
