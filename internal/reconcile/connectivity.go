package reconcile

import (
	"context"
	"fmt"
)

// ConnectivityReport holds the result of each backend check. A nil error
// means the check passed.
type ConnectivityReport struct {
	Directory error
	Identity  error
}

// OK reports whether both checks passed.
func (r ConnectivityReport) OK() bool {
	return r.Directory == nil && r.Identity == nil
}

// Fields renders the report as log fields.
func (r ConnectivityReport) Fields() map[string]any {
	return map[string]any{
		"directory_ok": r.Directory == nil,
		"identity_ok":  r.Identity == nil,
	}
}

// CheckConnectivity checks both backends independently. A failure of one
// never prevents the other check, and neither writes any output.
func (r *Reconciler) CheckConnectivity(ctx context.Context) ConnectivityReport {
	var report ConnectivityReport

	if r.dir == nil {
		report.Directory = fmt.Errorf("directory: %w", ErrNotConfigured)
	} else {
		report.Directory = r.dir.CheckBind(ctx)
	}
	r.logCheck("Directory", report.Directory)

	if r.id == nil {
		report.Identity = fmt.Errorf("identity: %w", ErrNotConfigured)
	} else {
		report.Identity = r.id.CheckCredential(ctx)
	}
	r.logCheck("Identity", report.Identity)

	return report
}

func (r *Reconciler) logCheck(backend string, err error) {
	if err != nil {
		r.log.Error(backend+" connectivity check failed", map[string]any{
			"error": err.Error(),
		})
		return
	}
	r.log.Info(backend+" connectivity check succeeded", nil)
}
