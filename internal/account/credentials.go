package account

import (
	"fmt"
	"strings"
	"time"
)

// DefaultRegion is used when credentials carry no region.
const DefaultRegion = "us-east-1"

// AuthMethod distinguishes how an account authenticates.
type AuthMethod string

const (
	AuthIdC    AuthMethod = "IdC"
	AuthSocial AuthMethod = "social"
)

// TokenSet is the token material shared by every auth method.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Region       string
}

// Credentials is a sealed sum type: IdCCredentials or SocialCredentials.
// Values are immutable; WithTokens returns an updated copy.
type Credentials interface {
	Method() AuthMethod
	Tokens() TokenSet
	WithTokens(TokenSet) Credentials
	sealed()
}

// IdCCredentials authenticate through an OIDC client registration and always
// carry a client id and secret.
type IdCCredentials struct {
	TokenSet
	ClientID     string
	ClientSecret string
}

func (IdCCredentials) Method() AuthMethod { return AuthIdC }
func (c IdCCredentials) Tokens() TokenSet { return c.TokenSet }
func (IdCCredentials) sealed()            {}
func (c IdCCredentials) WithTokens(t TokenSet) Credentials {
	c.TokenSet = mergeTokens(c.TokenSet, t)
	return c
}

// SocialCredentials authenticate through a social login and need no client
// registration.
type SocialCredentials struct {
	TokenSet
	ProfileARN string
}

func (SocialCredentials) Method() AuthMethod { return AuthSocial }
func (c SocialCredentials) Tokens() TokenSet { return c.TokenSet }
func (SocialCredentials) sealed()            {}
func (c SocialCredentials) WithTokens(t TokenSet) Credentials {
	c.TokenSet = mergeTokens(c.TokenSet, t)
	return c
}

// mergeTokens keeps the old refresh token and region when next omits them.
func mergeTokens(prev, next TokenSet) TokenSet {
	if next.RefreshToken == "" {
		next.RefreshToken = prev.RefreshToken
	}
	if next.Region == "" {
		next.Region = prev.Region
	}
	return next
}

// NewIdCCredentials validates and builds IdC credentials.
func NewIdCCredentials(tokens TokenSet, clientID, clientSecret string) (IdCCredentials, error) {
	if err := validateTokens(tokens); err != nil {
		return IdCCredentials{}, err
	}
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(clientSecret) == "" {
		return IdCCredentials{}, fmt.Errorf("%w: IdC credentials require client id and secret", ErrInvalidCredentials)
	}
	if tokens.Region == "" {
		tokens.Region = DefaultRegion
	}
	return IdCCredentials{TokenSet: tokens, ClientID: clientID, ClientSecret: clientSecret}, nil
}

// NewSocialCredentials validates and builds social credentials.
func NewSocialCredentials(tokens TokenSet, profileARN string) (SocialCredentials, error) {
	if err := validateTokens(tokens); err != nil {
		return SocialCredentials{}, err
	}
	if tokens.Region == "" {
		tokens.Region = DefaultRegion
	}
	return SocialCredentials{TokenSet: tokens, ProfileARN: profileARN}, nil
}

func validateTokens(t TokenSet) error {
	if strings.TrimSpace(t.AccessToken) == "" {
		return fmt.Errorf("%w: access token is required", ErrInvalidCredentials)
	}
	return nil
}

// CredentialRecord is the flat, serializable form of Credentials used at
// import, persistence and API boundaries.
type CredentialRecord struct {
	AuthMethod   AuthMethod `json:"auth_method"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ClientID     string     `json:"client_id,omitempty"`
	ClientSecret string     `json:"client_secret,omitempty"`
	Region       string     `json:"region,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at,omitempty"`
	ProfileARN   string     `json:"profile_arn,omitempty"`
}

// Build turns a record into validated Credentials.
func (r CredentialRecord) Build() (Credentials, error) {
	tokens := TokenSet{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    r.ExpiresAt,
		Region:       r.Region,
	}
	switch r.AuthMethod {
	case AuthIdC:
		c, err := NewIdCCredentials(tokens, r.ClientID, r.ClientSecret)
		if err != nil {
			return nil, err
		}
		return c, nil
	case AuthSocial:
		c, err := NewSocialCredentials(tokens, r.ProfileARN)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown auth method %q", ErrInvalidCredentials, r.AuthMethod)
	}
}

// RecordOf flattens Credentials. A nil value yields an empty record.
func RecordOf(c Credentials) CredentialRecord {
	if c == nil {
		return CredentialRecord{}
	}
	t := c.Tokens()
	rec := CredentialRecord{
		AuthMethod:   c.Method(),
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Region:       t.Region,
		ExpiresAt:    t.ExpiresAt,
	}
	switch v := c.(type) {
	case IdCCredentials:
		rec.ClientID = v.ClientID
		rec.ClientSecret = v.ClientSecret
	case SocialCredentials:
		rec.ProfileARN = v.ProfileARN
	}
	return rec
}
