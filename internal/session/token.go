package session

import (
	"context"

	"github.com/ucinar/exepad-runtime/internal/log"
)

// TokenSource yields an edit-session token. An empty token with a nil
// error means the source has nothing to offer and the next source in
// the chain is consulted.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to TokenSource.
type SourceFunc func(ctx context.Context) (string, error)

func (f SourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken returns a fixed token, e.g. one lifted from the URL.
func StaticToken(token string) TokenSource {
	return SourceFunc(func(context.Context) (string, error) {
		return token, nil
	})
}

// Chain consults sources in order and returns the first non-empty
// token. Source errors are logged and skipped; exhausting the chain
// yields an empty token, which downgrades rather than fails the
// session.
type Chain []TokenSource

func (c Chain) Token(ctx context.Context) (string, error) {
	for i, src := range c {
		token, err := src.Token(ctx)
		if err != nil {
			log.Warn(log.CatSession, "token source failed",
				"index", i, "error", err.Error())
			continue
		}
		if token != "" {
			log.Debug(log.CatSession, "token acquired",
				"index", i, "tokenLength", len(token))
			return token, nil
		}
	}
	return "", nil
}
