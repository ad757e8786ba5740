package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/isometry/adaliases/internal/config"
	"github.com/isometry/adaliases/internal/identity"
	"github.com/isometry/adaliases/internal/ldap"
	"github.com/isometry/adaliases/internal/metrics"
	"github.com/isometry/adaliases/internal/report"
)

// ExportDirectory writes one (employeeID, accountName) row per directory
// user, without a header, to the directory export path. The identity
// backend is never used.
func (r *Reconciler) ExportDirectory(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := newSummary(config.ModeADUsers)
	summary.OutputPath = r.opts.DirectoryExportPath
	defer func() { summary.Duration = time.Since(start) }()

	if r.dir == nil {
		summary.Outcome = OutcomeAborted
		return summary, fmt.Errorf("directory: %w", ErrNotConfigured)
	}

	users, err := r.fetchUsers(ctx, summary)
	if err != nil {
		return summary, err
	}

	err = r.writeReport(r.opts.DirectoryExportPath, nil, summary, func(w *report.Writer) error {
		for _, u := range users {
			if err := w.WriteRow(u.EmployeeID, u.AccountName); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	r.log.Info("Exported directory users", map[string]any{
		"path": r.opts.DirectoryExportPath,
		"rows": summary.RowsWritten,
	})
	return summary, nil
}

// ExportAliases looks up the aliases of every directory user and writes one
// (accountName, aliases) row per user, in directory order. A credential
// failure aborts the run before the directory is queried. A failed lookup
// yields an empty alias string.
func (r *Reconciler) ExportAliases(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := newSummary(config.ModeAliases)
	summary.OutputPath = r.opts.OutputPath
	defer func() { summary.Duration = time.Since(start) }()

	if r.id == nil || r.dir == nil {
		summary.Outcome = OutcomeAborted
		return summary, ErrNotConfigured
	}

	if err := r.id.EnsureCredential(ctx); err != nil {
		summary.Outcome = OutcomeAborted
		msg := "Identity setup failed; aborting export"
		if identity.IsFatal(err) {
			msg = "Identity credential unusable; aborting export"
		}
		r.log.Error(msg, map[string]any{
			"error": err.Error(),
		})
		return summary, fmt.Errorf("ensure credential: %w", err)
	}

	users, err := r.fetchUsers(ctx, summary)
	if err != nil {
		return summary, err
	}

	err = r.writeReport(r.opts.OutputPath, AliasReportHeader, summary, func(w *report.Writer) error {
		for _, u := range users {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("export interrupted after %d of %d users: %w", w.Rows(), len(users), err)
			}

			aliases := r.lookupAliases(ctx, u, summary)
			if err := w.WriteRow(u.AccountName, aliases); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	r.log.Info("Exported user aliases", map[string]any{
		"path":           r.opts.OutputPath,
		"rows":           summary.RowsWritten,
		"lookups_failed": summary.FailedLookups(),
	})
	return summary, nil
}

// fetchUsers runs the directory search once. A search failure is logged and
// handled like an empty result; both return an error wrapping ErrNoUsers.
func (r *Reconciler) fetchUsers(ctx context.Context, summary *Summary) ([]ldap.UserRecord, error) {
	users, err := r.dir.FetchUsers(ctx)
	if dc, ok := r.dir.(droppedCounter); ok {
		summary.EntriesDropped = dc.Dropped()
	}
	if err != nil {
		ldap.LogLDAPError(r.log, "fetch_users", err, nil)
		r.log.Error(ldap.DescribeFailure(err), map[string]any{
			"error_category": string(ldap.GetErrorCategory(err)),
		})
		users = nil
	}

	summary.UsersFetched = len(users)
	r.metrics.ObserveFetch(len(users), summary.EntriesDropped)

	if len(users) == 0 {
		summary.Outcome = OutcomeNoUsers
		r.log.Warn("No users found in directory; no report written", map[string]any{
			"path": summary.OutputPath,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoUsers, err)
		}
		return nil, ErrNoUsers
	}
	return users, nil
}

// lookupAliases returns the space-joined aliases of u, or "" when the lookup
// failed.
func (r *Reconciler) lookupAliases(ctx context.Context, u ldap.UserRecord, summary *Summary) string {
	key := LookupKey(u.EmployeeID, r.opts.AliasDomain)

	aliases, err := r.id.LookupAliases(ctx, key)
	if err != nil {
		kind, ok := identity.LookupErrorKind(err)
		if !ok {
			kind = identity.LookupProvider
		}
		summary.LookupsFailed[kind]++
		r.metrics.ObserveLookup(string(kind))

		fields := map[string]any{
			"user_key":     key,
			"account_name": u.AccountName,
			"kind":         string(kind),
			"error":        err.Error(),
		}
		var lookupErr *identity.LookupError
		if errors.As(err, &lookupErr) && lookupErr.Cause != nil {
			fields["cause"] = lookupErr.Cause.Error()
		}
		r.log.Warn("Alias lookup failed", fields)
		r.logProcessed(key, "", 0)
		return ""
	}

	summary.LookupsSucceeded++
	r.metrics.ObserveLookup(metrics.LookupSuccess)

	joined := strings.Join(aliases, " ")
	r.logProcessed(key, joined, len(aliases))
	return joined
}

func (r *Reconciler) logProcessed(key, aliases string, count int) {
	r.log.Info(fmt.Sprintf("Processed %s. Aliases: %s", key, aliases), map[string]any{
		"alias_count": count,
	})
}

// writeReport creates the report at path, runs fill and commits. The report
// is discarded when fill fails.
func (r *Reconciler) writeReport(path string, header []string, summary *Summary, fill func(*report.Writer) error) error {
	w, err := report.Create(path, r.log.Named("report"))
	if err != nil {
		summary.Outcome = OutcomeAborted
		return err
	}

	if header != nil {
		if err := w.WriteHeader(header...); err != nil {
			_ = w.Abort()
			summary.Outcome = OutcomeAborted
			return err
		}
	}

	if err := fill(w); err != nil {
		_ = w.Abort()
		summary.Outcome = OutcomeAborted
		r.log.Error("Report discarded", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		return err
	}

	if err := w.Commit(); err != nil {
		summary.Outcome = OutcomeAborted
		return err
	}

	summary.RowsWritten = w.Rows()
	summary.Outcome = OutcomeCompleted
	r.metrics.AddRows(w.Rows())
	return nil
}
