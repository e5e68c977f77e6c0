package models

// Payment providers.
const (
	PaymentProviderToss = "toss"
	PaymentProviderNice = "nice"
)

// StoredGatewayCredentials are the gateway keys an organization saved for its conferences.
type StoredGatewayCredentials struct {
	OrgID     string
	Provider  string
	SecretKey string
	ClientKey string
}

// HasSecret reports whether a usable stored secret exists.
func (c *StoredGatewayCredentials) HasSecret() bool {
	return c != nil && c.SecretKey != ""
}
