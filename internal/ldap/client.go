package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/adaliases/internal/logging"
)

// dialFunc opens a transport-level connection to server.
type dialFunc func(server *ServerInfo, timeout time.Duration, tlsConfig *tls.Config) (Conn, error)

// client implements the Client interface. Every operation opens its own
// connection and releases it before returning.
type client struct {
	config *ConnectionConfig
	server *ServerInfo
	log    logging.Logger
	dial   dialFunc
}

// NewClient validates config and returns a Client for the configured server.
func NewClient(config *ConnectionConfig, logger logging.Logger) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	server, err := validateConfig(config)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP configuration: %w", err)
	}

	logger.Debug("Creating new LDAP client", map[string]any{
		"server":      ServerInfoToURL(server),
		"auth_method": config.GetAuthMethod().String(),
		"start_tls":   config.StartTLS,
		"page_size":   config.PageSize,
		"timeout":     config.Timeout.String(),
	})

	return &client{
		config: config,
		server: server,
		log:    logger,
		dial:   dialServer,
	}, nil
}

// validateConfig checks the settings every operation depends on.
func validateConfig(config *ConnectionConfig) (*ServerInfo, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("server address is required")
	}

	server, err := ParseLDAPURL(config.URL)
	if err != nil {
		return nil, err
	}

	if config.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}

	if config.PageSize == 0 {
		return nil, fmt.Errorf("page size must be positive")
	}

	if !config.HasAuthentication() {
		return nil, fmt.Errorf("no authentication configuration available")
	}

	if server.UseTLS && config.StartTLS {
		return nil, fmt.Errorf("StartTLS cannot be combined with an ldaps:// address")
	}

	if _, err := NormalizeDNCase(config.BaseDN); err != nil {
		return nil, fmt.Errorf("base DN: %w", err)
	}

	return server, nil
}

// dialServer connects with a bounded dialer, negotiating TLS for ldaps://.
func dialServer(server *ServerInfo, timeout time.Duration, tlsConfig *tls.Config) (Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}

	opt := ldap.DialWithDialer(dialer)
	if server.UseTLS {
		opt = ldap.DialWithTLSDialer(tlsConfig, dialer)
	}

	return ldap.DialURL(ServerInfoToURL(server), opt)
}

// tlsConfig builds the TLS settings for ldaps:// and StartTLS.
func (c *client) tlsConfig() *tls.Config {
	var cfg *tls.Config
	if c.config.TLSConfig != nil {
		cfg = c.config.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cfg.ServerName = c.server.Host
	cfg.InsecureSkipVerify = !c.config.VerifyServerCertificate

	return cfg
}

func (c *client) usesTLS() bool {
	return c.server.UseTLS || c.config.StartTLS
}

// withConnection dials, secures and authenticates a connection, runs fn on
// it and always releases it. Cancelling ctx closes the connection, which
// aborts any request in flight.
func (c *client) withConnection(ctx context.Context, fn func(conn Conn) error) error {
	if err := ctx.Err(); err != nil {
		return WrapError("connect", err)
	}

	fields := map[string]any{
		"server": ServerInfoToURL(c.server),
	}

	tlsConfig := c.tlsConfig()
	if c.usesTLS() && !c.config.VerifyServerCertificate {
		c.log.Warn("TLS certificate verification disabled for directory connection", fields)
	}

	c.log.Trace("Dialing directory server", fields)

	start := time.Now()
	conn, err := c.dial(c.server, c.config.Timeout, tlsConfig)
	if err != nil {
		LogLDAPError(c.log, "dial", err, fields)
		return WrapError("dial", NewConnectionError("failed to connect to "+ServerInfoToURL(c.server), err))
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer func() {
		stop()
		c.release(conn)
	}()

	conn.SetTimeout(c.config.Timeout)

	if !c.server.UseTLS && c.config.StartTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			LogLDAPError(c.log, "start_tls", err, fields)
			return c.contextError(ctx, "start_tls", err)
		}
	}

	if err := c.authenticate(conn); err != nil {
		return c.contextError(ctx, "bind", err)
	}

	c.log.Debug("Directory connection established", map[string]any{
		"server":      ServerInfoToURL(c.server),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return fn(conn)
}

// contextError prefers the context's error when cancellation caused err.
func (c *client) contextError(ctx context.Context, operation string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return WrapError(operation, fmt.Errorf("%w: %w", ctxErr, err))
	}
	return WrapError(operation, err)
}

// release unbinds and closes conn.
func (c *client) release(conn Conn) {
	if err := conn.Unbind(); err != nil {
		c.log.Trace("Unbind failed", map[string]any{"error": err.Error()})
	}
	_ = conn.Close()
}

// authenticate performs authentication based on the configured method.
func (c *client) authenticate(conn Conn) error {
	authMethod := c.config.GetAuthMethod()

	fields := map[string]any{
		"auth_method": authMethod.String(),
		"username":    c.config.Username,
	}

	start := time.Now()
	var err error

	switch authMethod {
	case AuthMethodSimpleBind:
		err = conn.Bind(c.config.Username, c.config.Password)
	case AuthMethodKerberos:
		err = performKerberosAuth(conn, c.config, c.server)
	default:
		err = fmt.Errorf("unsupported authentication method: %s", authMethod.String())
	}

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		LogLDAPError(c.log, "bind", err, fields)
		return err
	}

	c.log.Debug("Authentication successful", fields)
	return nil
}

// CheckBind dials, authenticates and unbinds.
func (c *client) CheckBind(ctx context.Context) error {
	return logging.LogOperation(c.log, "check_bind", map[string]any{
		"server": ServerInfoToURL(c.server),
	}, func() error {
		return c.withConnection(ctx, func(Conn) error { return nil })
	})
}

// SearchWithPaging performs an LDAP search with the paged results control.
// Referrals returned by the server are collected and never chased.
func (c *client) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	start := time.Now()
	fields := map[string]any{
		"base_dn":    req.BaseDN,
		"filter":     req.Filter,
		"scope":      req.Scope.String(),
		"attributes": req.Attributes,
		"page_size":  c.config.PageSize,
	}

	c.log.Debug("Starting paged search", fields)

	result := &SearchResult{}

	err := c.withConnection(ctx, func(conn Conn) error {
		pagingControl := ldap.NewControlPaging(c.config.PageSize)
		lastProgress := start

		for {
			if err := ctx.Err(); err != nil {
				c.log.Warn("Paged search cancelled by context", map[string]any{
					"pages_completed": result.Pages,
					"entries_found":   len(result.Entries),
					"context_error":   err.Error(),
				})
				return WrapError("search", err)
			}

			ldapReq := ldap.NewSearchRequest(
				req.BaseDN,
				int(req.Scope),
				int(req.DerefAliases),
				0, // No size limit when paging
				int(req.TimeLimit.Seconds()),
				false,
				req.Filter,
				req.Attributes,
				[]ldap.Control{pagingControl},
			)

			page, err := conn.Search(ldapReq)
			if err != nil {
				pageFields := map[string]any{
					"page_number":   result.Pages + 1,
					"entries_found": len(result.Entries),
					"base_dn":       req.BaseDN,
				}
				LogLDAPError(c.log, "paged_search", err, pageFields)
				return c.contextError(ctx, "search", err)
			}

			result.Pages++
			result.Entries = append(result.Entries, page.Entries...)
			result.Referrals = append(result.Referrals, page.Referrals...)

			c.log.Trace("Completed search page", map[string]any{
				"page_number":     result.Pages,
				"entries_in_page": len(page.Entries),
				"total_entries":   len(result.Entries),
			})

			if now := time.Now(); result.Pages%10 == 0 || now.Sub(lastProgress) >= 10*time.Second {
				elapsed := now.Sub(start)
				c.log.Info("Paged search in progress", map[string]any{
					"pages_completed": result.Pages,
					"total_entries":   len(result.Entries),
					"elapsed_seconds": int(elapsed.Seconds()),
				})
				lastProgress = now
			}

			control := ldap.FindControl(page.Controls, ldap.ControlTypePaging)
			paging, ok := control.(*ldap.ControlPaging)
			if !ok || len(paging.Cookie) == 0 {
				return nil
			}
			pagingControl.SetCookie(paging.Cookie)
		}
	})
	if err != nil {
		return nil, err
	}

	if len(result.Referrals) > 0 {
		c.log.Warn("Ignoring referrals returned by directory server", map[string]any{
			"referral_count": len(result.Referrals),
			"referrals":      result.Referrals,
		})
	}

	fields["pages"] = result.Pages
	fields["entries_found"] = len(result.Entries)
	fields["duration_ms"] = time.Since(start).Milliseconds()
	c.log.Debug("Paged search completed", fields)

	return result, nil
}
