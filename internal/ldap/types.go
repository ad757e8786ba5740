package ldap

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for LDAP connections.
type ConnectionConfig struct {
	// Connection settings
	URL      string        // ldap:// or ldaps:// server address
	BaseDN   string        // Base DN for searches
	Timeout  time.Duration // Bound on dial and on every request
	PageSize uint32        // Paged results control size

	// Authentication settings
	Username       string // Bind DN, UPN, or Kerberos principal
	Password       string // Password for simple bind (or Kerberos password)
	KerberosRealm  string // Enables GSSAPI authentication when set
	KerberosKeytab string // Path to Kerberos keytab file
	KerberosConfig string // Path to Kerberos config file (krb5.conf)
	KerberosSPN    string // Overrides the ldap/<host> service principal

	// TLS settings
	StartTLS                bool // Upgrade ldap:// connections with StartTLS
	VerifyServerCertificate bool // Validate the server certificate chain and name
	TLSConfig               *tls.Config
}

// DefaultConfig returns the baseline configuration that environment
// settings are layered on.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout:  30 * time.Second,
		PageSize: 1000,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host   string
	Port   int
	UseTLS bool
}

// Client provides the directory operations used by a run.
type Client interface {
	// CheckBind dials, authenticates and unbinds.
	CheckBind(ctx context.Context) error

	// SearchWithPaging reads every page of a search on one connection.
	SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error)
}

// Conn is the subset of *ldap.Conn the client drives.
type Conn interface {
	Bind(username, password string) error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error
	StartTLS(config *tls.Config) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SetTimeout(timeout time.Duration)
	Unbind() error
	Close() error
}

var _ Conn = (*ldap.Conn)(nil)

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN       string
	Scope        SearchScope
	Filter       string
	Attributes   []string
	TimeLimit    time.Duration
	DerefAliases DerefAliases
}

// SearchResult contains search results and metadata.
type SearchResult struct {
	Entries   []*ldap.Entry
	Referrals []string // Returned by the server, never followed
	Pages     int
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// DerefAliases defines alias dereferencing behavior.
type DerefAliases int

const (
	NeverDerefAliases DerefAliases = iota
	DerefInSearching
	DerefFindingBaseObj
	DerefAlways
)

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota // Username/password authentication
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the authentication method from the configuration.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	if c.KerberosRealm != "" {
		return AuthMethodKerberos
	}
	return AuthMethodSimpleBind
}

// HasAuthentication checks if any authentication method is configured.
func (c *ConnectionConfig) HasAuthentication() bool {
	return c.Username != "" || c.KerberosRealm != ""
}

// ConnectionError represents dial and transport failures.
type ConnectionError struct {
	message string
	cause   error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, cause error) *ConnectionError {
	return &ConnectionError{
		message: message,
		cause:   cause,
	}
}
