// Command adaliases exports Active Directory users and their Google
// Workspace email aliases to CSV.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/isometry/adaliases/internal/config"
	"github.com/isometry/adaliases/internal/identity"
	"github.com/isometry/adaliases/internal/ldap"
	"github.com/isometry/adaliases/internal/logging"
	"github.com/isometry/adaliases/internal/metrics"
	"github.com/isometry/adaliases/internal/reconcile"
)

var (
	_ reconcile.DirectoryService = (*ldap.UserReader)(nil)
	_ reconcile.IdentityService  = (*identity.Client)(nil)
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run executes one invocation and returns the process exit code. Every
// outcome the run can handle exits 0 and the log file tells them apart.
// Configuration that cannot start a run exits 1.
func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("adaliases", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		testMode = fs.Bool("test", false, "check directory and identity connectivity")
		adusers  = fs.Bool("adusers", false, "export directory users to ADUSERS_FILE_PATH")
		aliases  = fs.Bool("aliases", false, "export user aliases to OUTPUT_FILE_PATH")
		envFile  = fs.String("env-file", ".env", "optional dotenv file seeding the environment")
	)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintln(out, "Usage: adaliases [--env-file FILE] --test | --adusers | --aliases")
		fs.PrintDefaults()
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Exit status is 0 once a run starts, even when it finds no users or aborts.")
		fmt.Fprintln(out, "It is 1 when the configuration is invalid, including --adusers or --aliases")
		fmt.Fprintln(out, "without their required LDAP_* or GOOGLE_* settings, and 2 on unknown flags.")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	mode, ok := selectMode(*testMode, *adusers, *aliases)
	if !ok {
		fs.Usage()
		return 0
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(stderr, "adaliases: invalid configuration: %v\n", err)
		return 1
	}

	root, closer, err := logging.New(logging.Options{
		Path:  cfg.LogFilePath,
		Level: cfg.LogLevel,
		JSON:  cfg.LogJSON,
	})
	if err != nil {
		fmt.Fprintf(stderr, "adaliases: %v\n", err)
		return 1
	}
	defer closer.Close()

	logger := root.With(map[string]any{"run_id": uuid.NewString()})
	logger.Info("Starting run", map[string]any{"mode": string(mode)})
	logger.Debug("Loaded configuration", logging.SanitizeFields(cfg.Fields()))

	if cfg.OrganizationalUnitName != "" {
		logger.Info("Organizational unit configured but not applied to the search filter", map[string]any{
			"organizational_unit": cfg.OrganizationalUnitName,
		})
	}

	if cfg.LDAP.ServerAddress != "" && !cfg.LDAP.VerifyServerCertificate {
		logger.Warn("Directory server certificate verification is disabled", map[string]any{
			"ldap_server": cfg.LDAP.ServerAddress,
		})
	}

	if err := cfg.Validate(mode); err != nil {
		logger.Error("Invalid configuration", map[string]any{"error": err.Error()})
		fmt.Fprintf(stderr, "adaliases: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
	defer cancel()

	rec := metrics.New()
	start := time.Now()
	success := execute(ctx, mode, cfg, logger, rec)

	rec.ObserveRun(string(mode), time.Since(start), success, time.Now())
	if err := rec.WriteTextfile(cfg.MetricsFilePath); err != nil {
		logger.Warn("Failed to write metrics textfile", map[string]any{
			"path":  cfg.MetricsFilePath,
			"error": err.Error(),
		})
	}

	logger.Info("Run finished", map[string]any{
		"mode":        string(mode),
		"success":     success,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return 0
}

// selectMode picks the first requested mode in the order test, adusers,
// aliases.
func selectMode(testMode, adusers, aliases bool) (config.Mode, bool) {
	switch {
	case testMode:
		return config.ModeTest, true
	case adusers:
		return config.ModeADUsers, true
	case aliases:
		return config.ModeAliases, true
	default:
		return "", false
	}
}

// execute wires the backends the mode needs and runs it. It reports whether
// the mode completed without a fatal error.
func execute(ctx context.Context, mode config.Mode, cfg *config.Config, logger logging.Logger, rec *metrics.Recorder) bool {
	var dir reconcile.DirectoryService
	if err := cfg.ValidateDirectory(); err != nil {
		logger.Warn("Directory backend not configured", map[string]any{"error": err.Error()})
	} else if reader, err := newUserReader(cfg, logger.Named("ldap")); err != nil {
		logger.Error("Failed to create directory client", map[string]any{"error": err.Error()})
	} else {
		dir = reader
	}

	var id reconcile.IdentityService
	if mode != config.ModeADUsers {
		if err := cfg.ValidateIdentity(); err != nil {
			logger.Warn("Identity backend not configured", map[string]any{"error": err.Error()})
		} else {
			id = identity.New(identityOptions(cfg), logger.Named("identity"))
		}
	}

	r := reconcile.New(dir, id, reconcile.Options{
		OutputPath:          cfg.OutputFilePath,
		DirectoryExportPath: cfg.ADUsersFilePath,
		AliasDomain:         cfg.AliasDomain,
	}, logger.Named("reconcile"), rec)

	switch mode {
	case config.ModeTest:
		report := r.CheckConnectivity(ctx)
		logger.Info("Connectivity check finished", report.Fields())
		return report.OK()
	case config.ModeADUsers:
		summary, err := r.ExportDirectory(ctx)
		return finish(logger, summary, err)
	case config.ModeAliases:
		summary, err := r.ExportAliases(ctx)
		return finish(logger, summary, err)
	}
	return false
}

func finish(logger logging.Logger, summary *reconcile.Summary, err error) bool {
	fields := summary.Fields()
	switch {
	case err == nil:
		logger.Info("Run summary", fields)
		return true
	case errors.Is(err, reconcile.ErrNoUsers):
		fields["error"] = err.Error()
		logger.Warn("Run summary", fields)
	case identity.IsFatal(err):
		fields["error"] = err.Error()
		logger.Error("Run aborted: identity credential unusable", fields)
	default:
		fields["error"] = err.Error()
		logger.Error("Run summary", fields)
	}
	return false
}

// newUserReader builds the directory reader from configuration.
func newUserReader(cfg *config.Config, logger logging.Logger) (*ldap.UserReader, error) {
	client, err := ldap.NewClient(directoryConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	baseDN, err := ldap.NormalizeDNCase(cfg.LDAP.BaseDN)
	if err != nil {
		return nil, err
	}
	reader := ldap.NewUserReader(client, baseDN, logger)
	reader.SetTimeout(cfg.LDAP.Timeout)
	return reader, nil
}

// directoryConfig maps run configuration onto directory connection settings.
func directoryConfig(cfg *config.Config) *ldap.ConnectionConfig {
	conn := ldap.DefaultConfig()
	conn.URL = cfg.LDAP.ServerAddress
	conn.BaseDN = cfg.LDAP.BaseDN
	conn.Username = cfg.LDAP.Username
	conn.Password = cfg.LDAP.Password
	conn.Timeout = cfg.LDAP.Timeout
	conn.PageSize = cfg.LDAP.PageSize
	conn.StartTLS = cfg.LDAP.StartTLS
	conn.VerifyServerCertificate = cfg.LDAP.VerifyServerCertificate
	conn.KerberosRealm = cfg.LDAP.KerberosRealm
	conn.KerberosKeytab = cfg.LDAP.KerberosKeytab
	conn.KerberosConfig = cfg.LDAP.KerberosConfig
	conn.KerberosSPN = cfg.LDAP.KerberosSPN
	return conn
}

func identityOptions(cfg *config.Config) identity.Options {
	return identity.Options{
		CredentialsFile: cfg.Google.CredentialsFile,
		Endpoint:        cfg.Google.APIEndpoint,
		TestUserKey:     cfg.Google.TestUserKey,
		RequestTimeout:  cfg.Google.RequestTimeout,
		LookupRate:      cfg.Google.LookupRate,
	}
}
