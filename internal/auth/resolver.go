package auth

import (
	"github.com/wakelak/wakelak/internal/apperr"
	"github.com/wakelak/wakelak/internal/models"
)

// CredentialStore looks up a user's stored GitHub credential. A user who
// never linked an account yields (nil, nil).
type CredentialStore interface {
	GetCredential(userID string) (*models.Credential, error)
}

// TokenResolver produces the bearer token used for repository gateway calls:
// the user's stored OAuth token when present, otherwise the deployment's
// fallback token. It re-resolves on every call — no caching — so linking or
// unlinking an account takes effect immediately.
type TokenResolver struct {
	store    CredentialStore
	fallback string
}

func NewTokenResolver(store CredentialStore, fallback string) *TokenResolver {
	return &TokenResolver{store: store, fallback: fallback}
}

// Resolve returns the token to use for userID, failing closed when neither
// a stored credential nor a fallback exists.
func (r *TokenResolver) Resolve(userID string) (string, error) {
	cred, err := r.store.GetCredential(userID)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "could not look up GitHub credential")
	}
	if cred != nil && cred.Token != "" {
		return cred.Token, nil
	}
	if r.fallback != "" {
		return r.fallback, nil
	}
	return "", apperr.New(apperr.CodeCredentialMissing, "connect your GitHub account first")
}
