// Package config builds the run configuration once at process start:
// struct defaults first, then an optional .env file, then the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Mode selects what a run does.
type Mode string

const (
	ModeTest    Mode = "test"
	ModeADUsers Mode = "adusers"
	ModeAliases Mode = "aliases"
)

// Config holds application configuration.
type Config struct {
	OutputFilePath  string        `default:"user_aliases.csv"`
	ADUsersFilePath string        `default:"adusers.csv"`
	LogFilePath     string        `default:"alias_retrieval.log"`
	LogLevel        string        `default:"info"`
	LogJSON         bool          `default:"false"`
	MetricsFilePath string        // Prometheus textfile; empty disables
	RunTimeout      time.Duration `default:"2h"`
	AliasDomain     string        `default:"nyu.edu"`

	// OrganizationalUnitName is read and logged but never applied to the
	// directory search.
	OrganizationalUnitName string `default:"Active Users"`

	LDAP   LDAPConfig
	Google GoogleConfig
}

// LDAPConfig holds directory connection settings.
type LDAPConfig struct {
	ServerAddress           string
	Username                string
	Password                string
	BaseDN                  string
	VerifyServerCertificate bool          `default:"false"`
	StartTLS                bool          `default:"false"`
	Timeout                 time.Duration `default:"30s"`
	PageSize                uint32        `default:"1000"`

	KerberosRealm  string
	KerberosKeytab string
	KerberosConfig string
	KerberosSPN    string
}

// GoogleConfig holds identity provider settings.
type GoogleConfig struct {
	CredentialsFile string
	APIEndpoint     string
	TestUserKey     string
	RequestTimeout  time.Duration `default:"30s"`
	LookupRate      float64       `default:"0"`
}

// Load seeds the environment from envFile (a missing file is not an error),
// applies defaults and overlays environment values.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()

	if err := overlay(v, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func overlay(v *viper.Viper, cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			*dst = s
		}
	}
	secret := func(key string, dst *string) {
		// Passwords are taken verbatim.
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	boolean := func(key string, dst *bool) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid boolean %q", key, s))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil || d <= 0 {
				errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, s))
				return
			}
			*dst = d
		}
	}
	uint32v := func(key string, dst *uint32) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			n, err := strconv.ParseUint(s, 10, 32)
			if err != nil || n == 0 {
				errs = append(errs, fmt.Errorf("%s: invalid positive integer %q", key, s))
				return
			}
			*dst = uint32(n)
		}
	}
	float := func(key string, dst *float64) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil || f < 0 {
				errs = append(errs, fmt.Errorf("%s: invalid rate %q", key, s))
				return
			}
			*dst = f
		}
	}

	str("OUTPUT_FILE_PATH", &cfg.OutputFilePath)
	str("ADUSERS_FILE_PATH", &cfg.ADUsersFilePath)
	str("LOG_FILE_PATH", &cfg.LogFilePath)
	str("LOG_LEVEL", &cfg.LogLevel)
	boolean("LOG_JSON", &cfg.LogJSON)
	str("METRICS_FILE_PATH", &cfg.MetricsFilePath)
	duration("RUN_TIMEOUT", &cfg.RunTimeout)
	str("ALIAS_DOMAIN", &cfg.AliasDomain)
	str("ORGANIZATIONAL_UNIT_NAME", &cfg.OrganizationalUnitName)

	str("LDAP_SERVER_ADDRESS", &cfg.LDAP.ServerAddress)
	str("LDAP_USERNAME", &cfg.LDAP.Username)
	secret("LDAP_USER_PASSWORD", &cfg.LDAP.Password)
	str("LDAP_BASE_DN", &cfg.LDAP.BaseDN)
	boolean("LDAP_VERIFY_SERVER_CERTIFICATE", &cfg.LDAP.VerifyServerCertificate)
	boolean("LDAP_START_TLS", &cfg.LDAP.StartTLS)
	duration("LDAP_TIMEOUT", &cfg.LDAP.Timeout)
	uint32v("LDAP_PAGE_SIZE", &cfg.LDAP.PageSize)
	str("LDAP_KERBEROS_REALM", &cfg.LDAP.KerberosRealm)
	str("LDAP_KERBEROS_KEYTAB", &cfg.LDAP.KerberosKeytab)
	str("LDAP_KERBEROS_CONFIG", &cfg.LDAP.KerberosConfig)
	str("LDAP_KERBEROS_SPN", &cfg.LDAP.KerberosSPN)

	str("GOOGLE_CREDENTIALS_FILE", &cfg.Google.CredentialsFile)
	str("GOOGLE_API_ENDPOINT", &cfg.Google.APIEndpoint)
	str("GOOGLE_TEST_USER_KEY", &cfg.Google.TestUserKey)
	duration("GOOGLE_REQUEST_TIMEOUT", &cfg.Google.RequestTimeout)
	float("GOOGLE_LOOKUP_RATE", &cfg.Google.LookupRate)

	return errors.Join(errs...)
}

// ValidateDirectory reports missing directory settings.
func (c *Config) ValidateDirectory() error {
	var errs []error
	if c.LDAP.ServerAddress == "" {
		errs = append(errs, errors.New("LDAP_SERVER_ADDRESS is required"))
	}
	if c.LDAP.BaseDN == "" {
		errs = append(errs, errors.New("LDAP_BASE_DN is required"))
	}
	if c.LDAP.KerberosRealm == "" && c.LDAP.Username == "" {
		errs = append(errs, errors.New("LDAP_USERNAME is required unless LDAP_KERBEROS_REALM is set"))
	}
	return errors.Join(errs...)
}

// ValidateIdentity reports missing identity provider settings.
func (c *Config) ValidateIdentity() error {
	if c.Google.CredentialsFile == "" {
		return errors.New("GOOGLE_CREDENTIALS_FILE is required")
	}
	return nil
}

// Validate checks the settings the given mode cannot run without. The
// connectivity check tolerates missing settings; each check reports its own.
func (c *Config) Validate(mode Mode) error {
	if c.AliasDomain == "" {
		return errors.New("ALIAS_DOMAIN must not be empty")
	}
	switch mode {
	case ModeTest:
		return nil
	case ModeADUsers:
		return c.ValidateDirectory()
	case ModeAliases:
		return errors.Join(c.ValidateDirectory(), c.ValidateIdentity())
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// Fields returns a loggable view of the configuration with secrets omitted.
func (c *Config) Fields() map[string]any {
	return map[string]any{
		"output_file":              c.OutputFilePath,
		"adusers_file":             c.ADUsersFilePath,
		"log_level":                c.LogLevel,
		"metrics_file":             c.MetricsFilePath,
		"run_timeout":              c.RunTimeout.String(),
		"alias_domain":             c.AliasDomain,
		"organizational_unit":      c.OrganizationalUnitName,
		"ldap_server":              c.LDAP.ServerAddress,
		"ldap_username":            c.LDAP.Username,
		"ldap_password_set":        c.LDAP.Password != "",
		"ldap_base_dn":             c.LDAP.BaseDN,
		"ldap_verify_certificate":  c.LDAP.VerifyServerCertificate,
		"ldap_start_tls":           c.LDAP.StartTLS,
		"ldap_timeout":             c.LDAP.Timeout.String(),
		"ldap_page_size":           c.LDAP.PageSize,
		"ldap_kerberos_realm":      c.LDAP.KerberosRealm,
		"google_credentials_file":  c.Google.CredentialsFile,
		"google_api_endpoint":      c.Google.APIEndpoint,
		"google_request_timeout":   c.Google.RequestTimeout.String(),
		"google_lookup_rate":       c.Google.LookupRate,
		"google_test_user_key_set": c.Google.TestUserKey != "",
	}
}
