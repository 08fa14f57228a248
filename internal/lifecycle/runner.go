package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	cfgresolver "github.com/hurttlocker/canon/internal/config"
	"github.com/hurttlocker/canon/internal/logging"
	"github.com/hurttlocker/canon/internal/store"
)

// StaleOutdateActor is recorded as the actor of policy-applied transitions.
const StaleOutdateActor = "policy:stale-outdate"

// PolicyAction is one transition proposed (and possibly applied) by a policy.
type PolicyAction struct {
	Policy       string     `json:"policy"`
	Action       Action     `json:"action"`
	ClaimID      string     `json:"claim_id"`
	ClubID       string     `json:"club_id"`
	FromStatus   string     `json:"from_status"`
	ToStatus     string     `json:"to_status"`
	LastVerified *time.Time `json:"last_verified_at,omitempty"`
	Reason       string     `json:"reason"`
	Applied      bool       `json:"applied"`
}

type Report struct {
	DryRun     bool           `json:"dry_run"`
	Scanned    int            `json:"scanned"`
	Applied    int            `json:"applied"`
	Actions    []PolicyAction `json:"actions"`
	PolicyRuns struct {
		StaleOutdate int `json:"stale_outdate"`
	} `json:"policy_runs"`
}

type Runner struct {
	sqlite   *store.SQLiteStore
	mgr      *Manager
	policies cfgresolver.PolicyConfig
	clubID   string
	now      time.Time
}

// NewRunner builds a policy runner. clubID restricts the scan to one club
// when non-empty.
func NewRunner(st store.Store, mgr *Manager, policies cfgresolver.PolicyConfig, clubID string) (*Runner, error) {
	sqlite, ok := st.(*store.SQLiteStore)
	if !ok {
		return nil, fmt.Errorf("lifecycle runner requires sqlite store")
	}
	if mgr == nil {
		mgr = NewManager(st)
	}
	return &Runner{sqlite: sqlite, mgr: mgr, policies: policies, clubID: clubID, now: time.Now().UTC()}, nil
}

func (r *Runner) Run(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{DryRun: dryRun, Actions: make([]PolicyAction, 0, 16)}

	if err := ValidatePolicies(r.policies); err != nil {
		return nil, err
	}

	if r.policies.StaleOutdate.Enabled {
		actions, scanned, err := r.applyStaleOutdate(ctx, dryRun)
		if err != nil {
			return nil, err
		}
		report.Scanned += scanned
		report.PolicyRuns.StaleOutdate = len(actions)
		report.Actions = append(report.Actions, actions...)
	}

	for _, a := range report.Actions {
		if a.Applied {
			report.Applied++
		}
	}

	logging.FromContext(ctx).Info().
		Bool("dry_run", dryRun).
		Int("scanned", report.Scanned).
		Int("proposed", len(report.Actions)).
		Int("applied", report.Applied).
		Msg("lifecycle policies run")
	return report, nil
}

func (r *Runner) applyStaleOutdate(ctx context.Context, dryRun bool) ([]PolicyAction, int, error) {
	cfg := r.policies.StaleOutdate
	actions := []PolicyAction{}

	query := `SELECT id, club_id, status, last_verified_at FROM claims
		WHERE status = 'accepted' AND last_verified_at IS NOT NULL`
	args := []interface{}{}
	if r.clubID != "" {
		query += ` AND club_id = ?`
		args = append(args, r.clubID)
	}
	query += ` ORDER BY last_verified_at ASC, id ASC`

	rows, err := r.sqlite.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query stale-outdate candidates: %w", err)
	}
	scanned := 0
	for rows.Next() {
		var claimID, clubID, status, verifiedRaw string
		if err := rows.Scan(&claimID, &clubID, &status, &verifiedRaw); err != nil {
			_ = rows.Close()
			return nil, scanned, fmt.Errorf("scan stale-outdate row: %w", err)
		}
		verified, err := parseSQLiteTime(verifiedRaw)
		if err != nil {
			_ = rows.Close()
			return nil, scanned, fmt.Errorf("parse stale-outdate last_verified_at %q: %w", verifiedRaw, err)
		}
		scanned++
		days := int(r.now.Sub(verified).Hours() / 24)
		if days < cfg.AfterDays {
			continue
		}
		if cfg.MaxClaims > 0 && len(actions) >= cfg.MaxClaims {
			continue
		}
		actions = append(actions, PolicyAction{
			Policy:       "stale-outdate",
			Action:       ActionMarkOutdated,
			ClaimID:      claimID,
			ClubID:       clubID,
			FromStatus:   status,
			ToStatus:     string(store.StatusOutdated),
			LastVerified: &verified,
			Reason:       fmt.Sprintf("last_verified_days=%d >= %d", days, cfg.AfterDays),
		})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, scanned, err
	}
	if err := rows.Close(); err != nil {
		return nil, scanned, fmt.Errorf("close stale-outdate rows: %w", err)
	}

	if !dryRun {
		for i := range actions {
			_, err := r.mgr.SetStatus(ctx, StatusRequest{
				ClaimID: actions[i].ClaimID,
				Status:  store.StatusOutdated,
				Actor:   StaleOutdateActor,
			})
			if err != nil {
				actions[i].Reason += "; apply_error: " + err.Error()
			} else {
				actions[i].Applied = true
			}
		}
	}
	return actions, scanned, nil
}

// ValidatePolicies rejects policy settings that cannot run.
func ValidatePolicies(p cfgresolver.PolicyConfig) error {
	if p.StaleOutdate.Enabled && p.StaleOutdate.AfterDays <= 0 {
		return fmt.Errorf("invalid stale_outdate after_days %d (must be > 0)", p.StaleOutdate.AfterDays)
	}
	if p.StaleOutdate.MaxClaims < 0 {
		return fmt.Errorf("invalid stale_outdate max_claims %d (must be >= 0)", p.StaleOutdate.MaxClaims)
	}
	return nil
}

func parseSQLiteTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	layouts := []string{
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339,
		time.RFC3339Nano,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format")
}
