package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2/clientcredentials"
)

// newAuthClient builds an http.Client that injects bearer tokens
// obtained through the client-credentials grant, refreshing them as
// they expire. The token endpoint comes from the issuer's discovery
// document.
func newAuthClient(ctx context.Context, cfg AuthConfig) (*http.Client, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     provider.Endpoint().TokenURL,
		Scopes:       cfg.Scopes,
	}
	return cc.Client(ctx), nil
}
