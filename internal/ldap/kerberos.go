package ldap

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

// defaultKrb5Conf is used when no krb5.conf is configured.
var defaultKrb5Conf = "/etc/krb5.conf"

// newGSSAPIClient is replaced in tests.
var newGSSAPIClient = createGSSAPIClient

// performKerberosAuth performs Kerberos authentication on an LDAP connection.
func performKerberosAuth(conn Conn, cfg *ConnectionConfig, serverInfo *ServerInfo) error {
	principal, realm, err := kerberosPrincipal(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	client, err := newGSSAPIClient(cfg, principal, realm)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(cfg, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	if err := conn.GSSAPIBind(client, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// createGSSAPIClient creates a GSSAPI client based on the configuration.
// Priority order: keytab, then credential cache, then password. Without a
// configured or system krb5.conf, one is generated that finds KDCs via DNS.
func createGSSAPIClient(cfg *ConnectionConfig, principal, realm string) (ldap.GSSAPIClient, error) {
	krb5confPath := cfg.KerberosConfig
	switch {
	case krb5confPath != "":
		if !fileExists(krb5confPath) {
			return nil, fmt.Errorf("kerberos configuration file not found at %s; set LDAP_KERBEROS_CONFIG", krb5confPath)
		}
	case fileExists(defaultKrb5Conf):
		krb5confPath = defaultKrb5Conf
	default:
		path, cleanup, err := writeRuntimeKrb5Conf(realm, "")
		if err != nil {
			return nil, err
		}
		// The constructors below read the file before returning.
		defer cleanup()
		krb5confPath = path
	}

	if cfg.KerberosKeytab != "" {
		if !fileExists(cfg.KerberosKeytab) {
			return nil, fmt.Errorf("kerberos keytab not readable: %s", cfg.KerberosKeytab)
		}
		return gssapi.NewClientWithKeytab(principal, realm, cfg.KerberosKeytab, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if ccache := getDefaultCCachePath(); fileExists(ccache) {
		return gssapi.NewClientFromCCache(ccache, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if principal != "" && cfg.Password != "" {
		return gssapi.NewClientWithPassword(principal, realm, cfg.Password, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// kerberosPrincipal splits user@REALM usernames; the configured realm wins.
func kerberosPrincipal(cfg *ConnectionConfig) (principal, realm string, err error) {
	if cfg == nil {
		return "", "", fmt.Errorf("configuration cannot be nil")
	}

	principal, realm = cfg.Username, cfg.KerberosRealm
	if user, userRealm, ok := strings.Cut(cfg.Username, "@"); ok {
		principal = user
		if realm == "" {
			realm = userRealm
		}
	}

	if realm == "" {
		return "", "", fmt.Errorf("kerberos realm is required (set LDAP_KERBEROS_REALM or include realm in username)")
	}

	return principal, realm, nil
}

// buildServicePrincipal constructs the LDAP service principal name from server info.
// If cfg.KerberosSPN is set, it overrides the automatic SPN construction.
func buildServicePrincipal(cfg *ConnectionConfig, serverInfo *ServerInfo) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration is required for service principal")
	}

	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if serverInfo == nil || serverInfo.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	return "ldap/" + serverInfo.Host, nil
}

// getDefaultCCachePath returns the default credential cache location.
func getDefaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
