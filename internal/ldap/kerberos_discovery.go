package ldap

import (
	"fmt"
	"os"
	"strings"
)

// generateRuntimeKrb5Conf renders a krb5.conf for realm that locates KDCs
// through DNS SRV records. domain maps hosts to the realm and defaults to
// the lower-cased realm.
func generateRuntimeKrb5Conf(realm, domain string) (string, error) {
	if realm == "" {
		return "", fmt.Errorf("kerberos realm is required for auto-discovery")
	}

	realm = strings.ToUpper(realm)
	if domain == "" {
		domain = realm
	}
	domain = strings.ToLower(domain)

	return fmt.Sprintf(`[libdefaults]
    default_realm = %[1]s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false
    forwardable = true
    ticket_lifetime = 24h
    renew_lifetime = 7d

[realms]
    %[1]s = {
    }

[domain_realm]
    .%[2]s = %[1]s
    %[2]s = %[1]s
`, realm, domain), nil
}

// writeRuntimeKrb5Conf writes a generated krb5.conf to a temp file. The
// caller removes it with cleanup once the Kerberos client has loaded it.
func writeRuntimeKrb5Conf(realm, domain string) (path string, cleanup func(), err error) {
	content, err := generateRuntimeKrb5Conf(realm, domain)
	if err != nil {
		return "", nil, err
	}

	f, err := os.CreateTemp("", "adaliases-krb5-*.conf")
	if err != nil {
		return "", nil, fmt.Errorf("create runtime krb5.conf: %w", err)
	}
	cleanup = func() { _ = os.Remove(f.Name()) }

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write runtime krb5.conf: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write runtime krb5.conf: %w", err)
	}

	return f.Name(), cleanup, nil
}
