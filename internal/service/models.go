package service

import "fmt"

// TokenResponse is the token endpoint payload. Both token fields carry the
// same signed identity assertion; this provider has no separate access-token
// semantics.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// OAuthError standardizes OAuth compliant errors.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newOAuthError(code, desc string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: desc, Status: status}
}

// invalidCredentials is the single body served for every credential failure,
// so callers cannot tell an unknown username from a wrong password.
const invalidCredentials = "Invalid username or password."
