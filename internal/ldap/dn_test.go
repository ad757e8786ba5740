package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDNCase(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "whitespace only", input: "   ", expected: ""},
		{name: "lowercase types", input: "ou=users,dc=example,dc=com", expected: "OU=users,DC=example,DC=com"},
		{name: "already canonical", input: "DC=example,DC=com", expected: "DC=example,DC=com"},
		{name: "spaces around separators", input: "ou = users, dc = example, dc = com", expected: "OU=users,DC=example,DC=com"},
		{name: "multi-valued RDN", input: "cn=john+sn=doe,dc=example,dc=com", expected: "CN=john+SN=doe,DC=example,DC=com"},
		{name: "escaped comma is kept escaped", input: `ou=Sales\, EMEA,dc=example,dc=com`, expected: `OU=Sales\, EMEA,DC=example,DC=com`},
		{name: "numeric OID type", input: "2.5.4.11=users,dc=example,dc=com", expected: "2.5.4.11=users,DC=example,DC=com"},
		{name: "unicode value", input: "ou=üsers,dc=example,dc=com", expected: "OU=üsers,DC=example,DC=com"},
		{name: "surrounding whitespace", input: "  dc=example,dc=com  ", expected: "DC=example,DC=com"},
		{name: "invalid syntax", input: "invalid-dn", wantErr: true},
		{name: "unescaped comma", input: "ou=john,doe,dc=example,dc=com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NormalizeDNCase(tt.input)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}
