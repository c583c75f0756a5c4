package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/pysugar/account-nexus/internal/account"
)

// Endpoints are the remote URLs used by Client. "{region}" is replaced with
// the credentials' region.
type Endpoints struct {
	OIDCTokenURL     string `yaml:"oidc_token_url" env:"NEXUS_OIDC_TOKEN_URL"`
	SocialRefreshURL string `yaml:"social_refresh_url" env:"NEXUS_SOCIAL_REFRESH_URL"`
	UsageURL         string `yaml:"usage_url" env:"NEXUS_USAGE_URL"`
}

// DefaultEndpoints returns the production endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		OIDCTokenURL:     "https://oidc.{region}.amazonaws.com/token",
		SocialRefreshURL: "https://prod.{region}.auth.desktop.kiro.dev/refreshToken",
		UsageURL:         "https://codewhisperer.{region}.amazonaws.com/getUsageLimits",
	}
}

func regional(url, region string) string {
	if region == "" {
		region = account.DefaultRegion
	}
	return strings.ReplaceAll(url, "{region}", region)
}

// Client is the HTTP implementation of Service.
type Client struct {
	http      *resty.Client
	endpoints Endpoints
	now       func() time.Time
}

// NewClient creates a client with the given request timeout.
func NewClient(endpoints Endpoints, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		http:      resty.New(),
		endpoints: endpoints,
		now:       time.Now,
	}
	c.http.
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "account-nexus")
	c.http.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		log.Debug().
			Str("method", resp.Request.Method).
			Str("url", resp.Request.URL).
			Int("status", resp.StatusCode()).
			Dur("duration", resp.Time()).
			Msg("credential service response")
		return nil
	})
	return c
}

// SetClock replaces the time source.
func (c *Client) SetClock(now func() time.Time) { c.now = now }

// RefreshToken exchanges the refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, creds account.Credentials) (*TokenResult, error) {
	if err := checkForRefresh(creds); err != nil {
		return nil, err
	}
	switch v := creds.(type) {
	case account.IdCCredentials:
		return c.refreshIdC(ctx, v)
	case account.SocialCredentials:
		return c.refreshSocial(ctx, v)
	default:
		return nil, malformed("unsupported credentials %T", creds)
	}
}

func (c *Client) refreshIdC(ctx context.Context, creds account.IdCCredentials) (*TokenResult, error) {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  regional(c.endpoints.OIDCTokenURL, creds.Region),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http.GetClient())
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			body := strings.TrimSpace(re.ErrorCode + " " + string(re.Body))
			return nil, classify(status, body, err)
		}
		return nil, &Error{Category: account.CategoryTransient, Message: "oidc refresh failed", Err: err}
	}

	expiresIn := time.Duration(tok.ExpiresIn) * time.Second
	if expiresIn <= 0 && !tok.Expiry.IsZero() {
		// oauth2 stamps Expiry with the wall clock
		expiresIn = time.Until(tok.Expiry).Round(time.Second)
	}
	res := &TokenResult{AccessToken: tok.AccessToken, ExpiresIn: expiresIn}
	if tok.RefreshToken != creds.RefreshToken {
		res.RefreshToken = tok.RefreshToken
	}
	return res, nil
}

type socialRefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	ProfileArn   string `json:"profileArn"`
}

func (c *Client) refreshSocial(ctx context.Context, creds account.SocialCredentials) (*TokenResult, error) {
	var out socialRefreshResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"refreshToken": creds.RefreshToken}).
		SetResult(&out).
		Post(regional(c.endpoints.SocialRefreshURL, creds.Region))
	if err != nil {
		return nil, &Error{Category: account.CategoryTransient, Message: "social refresh request failed", Err: err}
	}
	if resp.IsError() {
		return nil, classify(resp.StatusCode(), resp.String(), nil)
	}
	if out.AccessToken == "" {
		return nil, &Error{Category: account.CategoryTransient, StatusCode: resp.StatusCode(), Message: "refresh response has no access token"}
	}
	res := &TokenResult{
		AccessToken: out.AccessToken,
		ExpiresIn:   time.Duration(out.ExpiresIn) * time.Second,
		ProfileARN:  out.ProfileArn,
	}
	if out.RefreshToken != creds.RefreshToken {
		res.RefreshToken = out.RefreshToken
	}
	return res, nil
}

// ProbeStatus asks the service for the account's usage and subscription. An
// already expired token is refreshed first and returned as NewCredentials.
func (c *Client) ProbeStatus(ctx context.Context, creds account.Credentials) (*ProbeResult, error) {
	if err := checkForProbe(creds); err != nil {
		return nil, err
	}

	var refreshed account.Credentials
	tokens := creds.Tokens()
	if !tokens.ExpiresAt.IsZero() && !tokens.ExpiresAt.After(c.now()) && tokens.RefreshToken != "" {
		tr, err := c.RefreshToken(ctx, creds)
		if err != nil {
			return nil, fmt.Errorf("refresh before probe: %w", err)
		}
		refreshed = Apply(creds, tr, c.now())
		creds = refreshed
		tokens = creds.Tokens()
	}

	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(tokens.AccessToken).
		SetQueryParam("origin", "AI_EDITOR").
		SetQueryParam("resourceType", "AGENTIC_REQUEST").
		SetQueryParam("isEmailRequired", "true")
	if s, ok := creds.(account.SocialCredentials); ok && s.ProfileARN != "" {
		req.SetQueryParam("profileArn", s.ProfileARN)
	}

	var out usageResponse
	resp, err := req.SetResult(&out).Get(regional(c.endpoints.UsageURL, tokens.Region))
	if err != nil {
		return nil, &Error{Category: account.CategoryTransient, Message: "usage request failed", Err: err}
	}
	if resp.IsError() {
		return nil, classify(resp.StatusCode(), resp.String(), nil)
	}

	res := out.toProbe()
	res.NewCredentials = refreshed
	return res, nil
}

// Apply folds a refresh result into creds, computing the new expiry from now.
// The refresh token is replaced only when the service rotated it.
func Apply(creds account.Credentials, tr *TokenResult, now time.Time) account.Credentials {
	t := creds.Tokens()
	t.AccessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		t.RefreshToken = tr.RefreshToken
	}
	t.ExpiresAt = now.Add(tr.ExpiresIn)
	next := creds.WithTokens(t)
	if s, ok := next.(account.SocialCredentials); ok && tr.ProfileARN != "" {
		s.ProfileARN = tr.ProfileARN
		return s
	}
	return next
}
