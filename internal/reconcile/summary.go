package reconcile

import (
	"time"

	"github.com/isometry/adaliases/internal/config"
	"github.com/isometry/adaliases/internal/identity"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeNoUsers   Outcome = "no_users"
	OutcomeAborted   Outcome = "aborted"
)

// Summary counts what one run did.
type Summary struct {
	Mode             config.Mode
	Outcome          Outcome
	OutputPath       string
	UsersFetched     int
	EntriesDropped   int
	RowsWritten      int
	LookupsSucceeded int
	LookupsFailed    map[identity.LookupKind]int
	Duration         time.Duration
}

func newSummary(mode config.Mode) *Summary {
	return &Summary{
		Mode:          mode,
		LookupsFailed: map[identity.LookupKind]int{},
	}
}

// FailedLookups returns the total number of failed lookups.
func (s *Summary) FailedLookups() int {
	total := 0
	for _, n := range s.LookupsFailed {
		total += n
	}
	return total
}

// Fields renders the summary as log fields.
func (s *Summary) Fields() map[string]any {
	fields := map[string]any{
		"mode":            string(s.Mode),
		"outcome":         string(s.Outcome),
		"users_fetched":   s.UsersFetched,
		"entries_dropped": s.EntriesDropped,
		"rows_written":    s.RowsWritten,
		"duration_ms":     s.Duration.Milliseconds(),
	}
	if s.OutputPath != "" {
		fields["output_path"] = s.OutputPath
	}
	if s.Mode == config.ModeAliases {
		fields["lookups_succeeded"] = s.LookupsSucceeded
		fields["lookups_failed"] = s.FailedLookups()
		for kind, n := range s.LookupsFailed {
			fields["lookups_"+string(kind)] = n
		}
	}
	return fields
}
