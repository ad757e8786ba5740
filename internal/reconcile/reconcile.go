// Package reconcile drives the directory and identity backends for each run
// mode and turns their results into reports.
package reconcile

import (
	"context"
	"errors"

	"github.com/isometry/adaliases/internal/ldap"
	"github.com/isometry/adaliases/internal/logging"
	"github.com/isometry/adaliases/internal/metrics"
)

// AliasReportHeader is the header row of the alias report.
var AliasReportHeader = []string{"sAMAccountName", "Email Aliases"}

var (
	// ErrNoUsers means the directory yielded no qualifying users, so no
	// report was written.
	ErrNoUsers = errors.New("no qualifying directory users")
	// ErrNotConfigured is reported for a backend the run has no settings for.
	ErrNotConfigured = errors.New("backend not configured")
)

// DirectoryService is the directory side of a run.
type DirectoryService interface {
	CheckBind(ctx context.Context) error
	FetchUsers(ctx context.Context) ([]ldap.UserRecord, error)
}

// IdentityService is the cloud identity side of a run.
type IdentityService interface {
	CheckCredential(ctx context.Context) error
	EnsureCredential(ctx context.Context) error
	LookupAliases(ctx context.Context, userKey string) ([]string, error)
}

// droppedCounter is implemented by directory services that report how many
// entries their last fetch discarded.
type droppedCounter interface {
	Dropped() int
}

// Options holds the per-run settings of a Reconciler.
type Options struct {
	OutputPath          string // Alias report
	DirectoryExportPath string // Directory-only report
	AliasDomain         string // Suffix of every lookup key
}

// Reconciler runs one mode against its backends. Either backend may be nil
// when the run does not need it.
type Reconciler struct {
	dir     DirectoryService
	id      IdentityService
	opts    Options
	log     logging.Logger
	metrics *metrics.Recorder
}

// New creates a Reconciler. rec may be nil.
func New(dir DirectoryService, id IdentityService, opts Options, logger logging.Logger, rec *metrics.Recorder) *Reconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reconciler{
		dir:     dir,
		id:      id,
		opts:    opts,
		log:     logger,
		metrics: rec,
	}
}

// LookupKey is the identity provider key of the user with employeeID.
func LookupKey(employeeID, domain string) string {
	return employeeID + "@" + domain
}
