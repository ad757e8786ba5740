package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"OUTPUT_FILE_PATH", "ADUSERS_FILE_PATH", "LOG_FILE_PATH", "LOG_LEVEL", "LOG_JSON",
	"METRICS_FILE_PATH", "RUN_TIMEOUT", "ALIAS_DOMAIN", "ORGANIZATIONAL_UNIT_NAME",
	"LDAP_SERVER_ADDRESS", "LDAP_USERNAME", "LDAP_USER_PASSWORD", "LDAP_BASE_DN",
	"LDAP_VERIFY_SERVER_CERTIFICATE", "LDAP_START_TLS", "LDAP_TIMEOUT", "LDAP_PAGE_SIZE",
	"LDAP_KERBEROS_REALM", "LDAP_KERBEROS_KEYTAB", "LDAP_KERBEROS_CONFIG", "LDAP_KERBEROS_SPN",
	"GOOGLE_CREDENTIALS_FILE", "GOOGLE_API_ENDPOINT", "GOOGLE_TEST_USER_KEY",
	"GOOGLE_REQUEST_TIMEOUT", "GOOGLE_LOOKUP_RATE",
}

// clearEnv blanks every recognised variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "user_aliases.csv", cfg.OutputFilePath)
	assert.Equal(t, "adusers.csv", cfg.ADUsersFilePath)
	assert.Equal(t, "alias_retrieval.log", cfg.LogFilePath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 2*time.Hour, cfg.RunTimeout)
	assert.Equal(t, "nyu.edu", cfg.AliasDomain)
	assert.Equal(t, "Active Users", cfg.OrganizationalUnitName)
	assert.False(t, cfg.LDAP.VerifyServerCertificate)
	assert.False(t, cfg.LDAP.StartTLS)
	assert.Equal(t, 30*time.Second, cfg.LDAP.Timeout)
	assert.Equal(t, uint32(1000), cfg.LDAP.PageSize)
	assert.Equal(t, 30*time.Second, cfg.Google.RequestTimeout)
	assert.Zero(t, cfg.Google.LookupRate)
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("LDAP_SERVER_ADDRESS", "ldaps://dc1.example.com")
	t.Setenv("LDAP_USERNAME", "svc-aliases@example.com")
	t.Setenv("LDAP_USER_PASSWORD", " spaced secret ")
	t.Setenv("LDAP_BASE_DN", "DC=example,DC=com")
	t.Setenv("LDAP_VERIFY_SERVER_CERTIFICATE", "true")
	t.Setenv("LDAP_TIMEOUT", "5s")
	t.Setenv("LDAP_PAGE_SIZE", "250")
	t.Setenv("GOOGLE_CREDENTIALS_FILE", "/secrets/token.json")
	t.Setenv("GOOGLE_LOOKUP_RATE", "2.5")
	t.Setenv("ALIAS_DOMAIN", "example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ldaps://dc1.example.com", cfg.LDAP.ServerAddress)
	assert.Equal(t, " spaced secret ", cfg.LDAP.Password)
	assert.True(t, cfg.LDAP.VerifyServerCertificate)
	assert.Equal(t, 5*time.Second, cfg.LDAP.Timeout)
	assert.Equal(t, uint32(250), cfg.LDAP.PageSize)
	assert.Equal(t, "/secrets/token.json", cfg.Google.CredentialsFile)
	assert.Equal(t, 2.5, cfg.Google.LookupRate)
	assert.Equal(t, "example.com", cfg.AliasDomain)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides variables that are already set, so unset the
	// ones the file provides.
	for _, k := range []string{"LDAP_BASE_DN", "OUTPUT_FILE_PATH"} {
		require.NoError(t, os.Unsetenv(k))
	}
	t.Cleanup(func() {
		os.Unsetenv("LDAP_BASE_DN")
		os.Unsetenv("OUTPUT_FILE_PATH")
	})
	t.Setenv("LDAP_SERVER_ADDRESS", "ldap://from-env")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"LDAP_BASE_DN=DC=corp,DC=example\nOUTPUT_FILE_PATH=out.csv\nLDAP_SERVER_ADDRESS=ldap://from-file\n",
	), 0o600))

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "DC=corp,DC=example", cfg.LDAP.BaseDN)
	assert.Equal(t, "out.csv", cfg.OutputFilePath)
	assert.Equal(t, "ldap://from-env", cfg.LDAP.ServerAddress)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"LDAP_TIMEOUT", "soon"},
		{"LDAP_TIMEOUT", "-1s"},
		{"LDAP_PAGE_SIZE", "0"},
		{"LDAP_START_TLS", "maybe"},
		{"GOOGLE_LOOKUP_RATE", "-3"},
		{"RUN_TIMEOUT", "forever"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	complete := func() *Config {
		return &Config{
			AliasDomain: "nyu.edu",
			LDAP: LDAPConfig{
				ServerAddress: "ldaps://dc1",
				Username:      "svc",
				BaseDN:        "DC=example,DC=com",
			},
			Google: GoogleConfig{CredentialsFile: "token.json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		mode    Mode
		wantErr string
	}{
		{"aliases complete", func(*Config) {}, ModeAliases, ""},
		{"adusers ignores google", func(c *Config) { c.Google.CredentialsFile = "" }, ModeADUsers, ""},
		{"aliases needs google", func(c *Config) { c.Google.CredentialsFile = "" }, ModeAliases, "GOOGLE_CREDENTIALS_FILE"},
		{"adusers needs server", func(c *Config) { c.LDAP.ServerAddress = "" }, ModeADUsers, "LDAP_SERVER_ADDRESS"},
		{"adusers needs base dn", func(c *Config) { c.LDAP.BaseDN = "" }, ModeADUsers, "LDAP_BASE_DN"},
		{"kerberos replaces username", func(c *Config) { c.LDAP.Username = ""; c.LDAP.KerberosRealm = "EXAMPLE.COM" }, ModeADUsers, ""},
		{"username required", func(c *Config) { c.LDAP.Username = "" }, ModeADUsers, "LDAP_USERNAME"},
		{"test mode tolerates gaps", func(c *Config) { *c = Config{AliasDomain: "nyu.edu"} }, ModeTest, ""},
		{"empty alias domain", func(c *Config) { c.AliasDomain = "" }, ModeTest, "ALIAS_DOMAIN"},
		{"unknown mode", func(*Config) {}, Mode("sync"), "unknown mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := complete()
			tt.mutate(cfg)

			err := cfg.Validate(tt.mode)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFields_OmitsSecrets(t *testing.T) {
	cfg := &Config{LDAP: LDAPConfig{Password: "hunter2"}, Google: GoogleConfig{TestUserKey: "canary@nyu.edu"}}

	fields := cfg.Fields()

	for _, v := range fields {
		assert.NotEqual(t, "hunter2", v)
	}
	assert.Equal(t, true, fields["ldap_password_set"])
	assert.Equal(t, true, fields["google_test_user_key_set"])
}
