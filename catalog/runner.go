package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/lock"
	"github.com/frobware/go-raspeval/logging"
	"github.com/frobware/go-raspeval/store"
)

// Result is the outcome of one case in a run.
type Result struct {
	Requirement raspeval.Requirement `json:"requirement"`
	Outcome     raspeval.Outcome     `json:"outcome"`
	AttackID    int64                `json:"attack_id,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	EndedAt     time.Time            `json:"ended_at"`
}

// Runner executes cases one at a time and records each attempt.
type Runner struct {
	probes Probes
	store  store.Store
	params Params
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner returns a runner. A nil store skips recording.
func NewRunner(probes Probes, st store.Store, params Params, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{
		probes: probes,
		store:  st,
		params: params,
		logger: logger.With(logging.ComponentKey, "catalog"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Run executes cases in order under the evaluation lock and returns
// the run id and one result per case. Recording failures abort the
// run; case outcomes never do.
func (r *Runner) Run(ctx context.Context, scope lock.RunScope, cases []Case) (string, []Result, error) {
	if scope == nil {
		return "", nil, errors.New("evaluation run lock not held")
	}
	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)
	logger.InfoContext(ctx, "run started", "cases", len(cases), "lock", scope.Path())

	results := make([]Result, 0, len(cases))
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return runID, results, err
		}
		res, err := r.runCase(ctx, logger, runID, c)
		if err != nil {
			return runID, results, err
		}
		results = append(results, res)
	}
	logger.InfoContext(ctx, "run finished", "cases", len(results))
	return runID, results, nil
}

func (r *Runner) runCase(ctx context.Context, logger *slog.Logger, runID string, c Case) (res Result, err error) {
	req := c.Requirement
	logger = logger.With("requirement", req.ID, "scenario", req.Scenario)
	res = Result{Requirement: req, StartedAt: r.now()}

	if r.store != nil {
		res.AttackID, err = r.store.StartAttack(ctx, runID, req.ID, req.Scenario, res.StartedAt)
		if err != nil {
			return res, fmt.Errorf("record start of %s: %w", req.ID, err)
		}
		// The end is recorded even if the case panics.
		defer func() {
			if p := recover(); p != nil {
				res.Outcome = raspeval.Errored(fmt.Errorf("case %s panicked: %v", req.ID, p))
				res.EndedAt = r.now()
				if ferr := r.store.FinishAttack(ctx, res.AttackID, res.EndedAt, res.Outcome); ferr != nil {
					logger.ErrorContext(ctx, "failed to record end of attack", "error", ferr)
				}
				panic(p)
			}
			if ferr := r.store.FinishAttack(ctx, res.AttackID, res.EndedAt, res.Outcome); ferr != nil && err == nil {
				err = fmt.Errorf("record end of %s: %w", req.ID, ferr)
			}
		}()
	}

	res.Outcome = c.Execute(ctx, r.probes, r.params)
	res.EndedAt = r.now()

	logger.InfoContext(ctx, "case finished", "outcome", res.Outcome.Kind, "message", res.Outcome.Message)
	return res, nil
}
