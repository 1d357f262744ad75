package domain

// AuthCodeData is the payload bound to a one-time authorization code while it
// sits in the ephemeral store waiting to be exchanged.
type AuthCodeData struct {
	UserID      int64  `json:"user_id"`
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
}
