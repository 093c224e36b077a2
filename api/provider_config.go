package api

// ProviderConfig points the enrollment workflow at an identity provider. It
// is injected wherever tokens are exchanged or identity documents fetched;
// there is no ambient default.
type ProviderConfig struct {
	// TokenURL is the OAuth2 token endpoint.
	TokenURL string

	// UserInfoURL is the userinfo endpoint serving the identity document.
	UserInfoURL string

	// ClientID identifies this client to the provider.
	ClientID string

	// ClientSecret authenticates this client to the provider.
	ClientSecret string
}

// DMServerConfig points policy clients at a device-management server.
type DMServerConfig struct {
	// BaseURL is the server's base URL without a trailing slash, for example
	// "https://dm.example.com".
	BaseURL string
}
