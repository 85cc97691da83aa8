package websocket

// Credentials hold either an API key pair or an OAuth bearer token, never both.
type Credentials struct {
	KeyID      string
	SecretKey  string
	OAuthToken string
}

func KeyCredentials(keyID, secretKey string) Credentials {
	return Credentials{KeyID: keyID, SecretKey: secretKey}
}

func OAuthCredentials(token string) Credentials {
	return Credentials{OAuthToken: token}
}

func (c Credentials) IsOAuth() bool {
	return c.OAuthToken != ""
}

func (c Credentials) Validate() error {
	hasKey := c.KeyID != "" || c.SecretKey != ""
	hasToken := c.OAuthToken != ""

	switch {
	case hasKey && hasToken:
		return ErrInvalidCredentials
	case hasToken:
		return nil
	case c.KeyID != "" && c.SecretKey != "":
		return nil
	default:
		return ErrInvalidCredentials
	}
}
