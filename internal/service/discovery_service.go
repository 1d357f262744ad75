package service

import (
	"strings"

	"github.com/lanternauth/lantern/internal/config"
	"github.com/lanternauth/lantern/internal/keyring"
)

// DiscoveryService builds the OpenID discovery document from configuration.
type DiscoveryService struct {
	cfg config.Config
}

// NewDiscoveryService creates a DiscoveryService.
func NewDiscoveryService(cfg config.Config) *DiscoveryService {
	return &DiscoveryService{cfg: cfg}
}

// OpenIDConfiguration matches the OIDC discovery document.
type OpenIDConfiguration struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// OpenIDConfigurationResponse renders the static discovery document.
func (s *DiscoveryService) OpenIDConfigurationResponse() OpenIDConfiguration {
	issuer := s.cfg.IssuerURL()
	base := strings.TrimSuffix(issuer, "/")
	jwks := base + "/.well-known/jwks.json"
	return OpenIDConfiguration{
		Issuer:                issuer,
		AuthorizationEndpoint: base + "/oidc/authorize",
		TokenEndpoint:         base + "/oidc/token",
		// The provider has no dedicated userinfo endpoint; clients read
		// identity claims from the token and keys from the JWKS.
		UserinfoEndpoint:                 jwks,
		JWKSURI:                          jwks,
		ResponseTypesSupported:           []string{"code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{keyring.DefaultAlgorithm},
		ScopesSupported:                  []string{"openid"},
		TokenEndpointAuthMethods:         []string{"client_secret_basic", "client_secret_post"},
		ClaimsSupported:                  []string{"sub", "aud", "iss", "iat", "exp", "preferred_username", "email"},
	}
}
