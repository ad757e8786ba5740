// Package identity owns the Google Workspace credential lifecycle and
// performs per-user alias lookups against the Admin SDK Directory API.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/option"

	"github.com/isometry/adaliases/internal/logging"
)

// Options configures a Client.
type Options struct {
	CredentialsFile string
	Endpoint        string        // Admin SDK base URL override
	TestUserKey     string        // Looked up once by CheckCredential
	RequestTimeout  time.Duration // Bound on each token refresh and lookup
	LookupRate      float64       // Lookups per second; zero disables pacing
	HTTPClient      *http.Client  // Base transport; defaults to http.DefaultClient
}

// Client performs alias lookups with a credential it loads, classifies and,
// when needed, refreshes once.
type Client struct {
	opts    Options
	log     logging.Logger
	now     func() time.Time
	limiter *rate.Limiter

	state CredentialState
	cred  *Credential
	svc   *admin.Service
}

// New returns a Client in the unloaded state.
func New(opts Options, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	c := &Client{
		opts: opts,
		log:  logger,
		now:  time.Now,
	}
	if opts.LookupRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.LookupRate), 1)
	}
	return c
}

// EnsureCredential loads the credential file and makes the credential
// usable, refreshing and persisting it when it has expired. It runs the
// lifecycle once; later calls return immediately.
func (c *Client) EnsureCredential(ctx context.Context) error {
	if c.state == StateValid && c.svc != nil {
		return nil
	}

	cred, err := LoadCredentialFile(c.opts.CredentialsFile)
	if err != nil {
		c.log.Error("Failed to load identity credential", map[string]any{
			"credentials_file": c.opts.CredentialsFile,
			"error":            err.Error(),
		})
		return err
	}
	c.cred = cred
	c.state = StateLoaded

	state := Classify(cred, c.now())
	fields := map[string]any{
		"credentials_file": cred.Path(),
		"state":            state.String(),
	}
	if !cred.Expiry.IsZero() {
		fields["expiry"] = cred.Expiry.Format(time.RFC3339)
	}
	c.log.Debug("Classified identity credential", fields)

	switch state {
	case StateValid:
	case StateExpiredRefreshable:
		c.state = state
		if missing := cred.MissingRefreshKeys(); len(missing) > 0 {
			err := &CredentialLoadError{
				Path:   cred.Path(),
				Reason: "missing keys required for refresh: " + strings.Join(missing, ", "),
			}
			c.log.Error("Identity credential cannot be refreshed", map[string]any{
				"credentials_file": cred.Path(),
				"error":            err.Error(),
			})
			return err
		}
		if err := c.refresh(ctx); err != nil {
			c.log.Error("Identity credential refresh failed", map[string]any{
				"credentials_file": cred.Path(),
				"error":            err.Error(),
			})
			return err
		}
	default:
		c.state = state
		err := &CredentialInvalidError{Path: cred.Path(), State: state}
		c.log.Error("Identity credential is not usable", map[string]any{
			"credentials_file": cred.Path(),
			"error":            err.Error(),
		})
		return err
	}

	svc, err := c.newService(ctx)
	if err != nil {
		return fmt.Errorf("create directory service: %w", err)
	}
	c.svc = svc
	c.state = StateValid

	c.log.Info("Identity credential ready", map[string]any{
		"credentials_file": cred.Path(),
	})
	return nil
}

// refresh exchanges the refresh token for a new access token and writes the
// result back to the credential file before returning.
func (c *Client) refresh(ctx context.Context) error {
	cred := c.cred

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.opts.HTTPClient)

	conf := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cred.TokenURI,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: cred.Scopes,
	}

	start := time.Now()
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return &RefreshError{Path: cred.Path(), Err: err}
	}

	cred.Token = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	cred.Expiry = tok.Expiry

	if err := cred.Save(); err != nil {
		return &RefreshError{Path: cred.Path(), Persist: true, Err: err}
	}

	c.log.Info("Refreshed identity credential", map[string]any{
		"credentials_file": cred.Path(),
		"expiry":           cred.Expiry.Format(time.RFC3339),
		"duration_ms":      time.Since(start).Milliseconds(),
	})
	return nil
}

// newService builds a Directory API client that presents the current
// access token on every call without refreshing it.
func (c *Client) newService(ctx context.Context) (*admin.Service, error) {
	base := context.WithValue(context.Background(), oauth2.HTTPClient, c.opts.HTTPClient)
	httpClient := oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: c.cred.Token,
		TokenType:   "Bearer",
	}))

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.opts.Endpoint != "" {
		endpoint := c.opts.Endpoint
		if !strings.HasSuffix(endpoint, "/") {
			endpoint += "/"
		}
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	return admin.NewService(ctx, opts...)
}

// CheckCredential runs the credential lifecycle and, when a test user key is
// configured, one alias lookup.
func (c *Client) CheckCredential(ctx context.Context) error {
	return logging.LogOperation(c.log, "check_credential", map[string]any{
		"credentials_file": c.opts.CredentialsFile,
		"test_user_lookup": c.opts.TestUserKey != "",
	}, func() error {
		if err := c.EnsureCredential(ctx); err != nil {
			return err
		}
		if c.opts.TestUserKey == "" {
			return nil
		}

		aliases, err := c.LookupAliases(ctx, c.opts.TestUserKey)
		if err != nil {
			return fmt.Errorf("test user lookup: %w", err)
		}

		c.log.Info("Test user lookup succeeded", map[string]any{
			"user_key":    c.opts.TestUserKey,
			"alias_count": len(aliases),
		})
		return nil
	})
}

// LookupAliases returns the aliases of userKey in provider order. Every
// failure is returned as a *LookupError.
func (c *Client) LookupAliases(ctx context.Context, userKey string) ([]string, error) {
	if c.state != StateValid || c.svc == nil {
		return nil, &LookupError{UserKey: userKey, Kind: LookupProvider, Detail: ErrCredentialNotReady.Error(), Cause: ErrCredentialNotReady}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &LookupError{UserKey: userKey, Kind: LookupTransport, Detail: err.Error(), Cause: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	res, err := c.svc.Users.Aliases.List(userKey).Context(ctx).Do()
	if err != nil {
		lookupErr := classifyLookupError(userKey, err)
		c.log.Debug("Alias lookup failed", map[string]any{
			"user_key":    userKey,
			"kind":        string(lookupErr.Kind),
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil, lookupErr
	}

	aliases, err := decodeAliases(res)
	if err != nil {
		return nil, &LookupError{UserKey: userKey, Kind: LookupMalformed, Detail: err.Error(), Cause: err}
	}

	c.log.Trace("Alias lookup completed", map[string]any{
		"user_key":    userKey,
		"alias_count": len(aliases),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return aliases, nil
}

// decodeAliases extracts the alias strings from a users.aliases.list
// response, whose entries are untyped JSON objects.
func decodeAliases(res *admin.Aliases) ([]string, error) {
	if res == nil {
		return nil, fmt.Errorf("empty response")
	}

	aliases := make([]string, 0, len(res.Aliases))
	for i, item := range res.Aliases {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("alias %d is %T, not an object", i, item)
		}
		alias, ok := obj["alias"].(string)
		if !ok {
			return nil, fmt.Errorf("alias %d has no alias field", i)
		}
		aliases = append(aliases, alias)
	}
	return aliases, nil
}
