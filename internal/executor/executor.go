// Package executor performs confirmed fleet mutations and reads against the
// database, retrying transient failures.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/ashureev/fleetguard/internal/shared"
	"github.com/ashureev/fleetguard/internal/store"
	"github.com/containerd/errdefs"
)

// Repository is the subset of the fleet store the executor drives.
type Repository interface {
	List(ctx context.Context, c domain.Collection) ([]store.Record, error)
	Get(ctx context.Context, c domain.Collection, id int64) (store.Record, error)
	Insert(ctx context.Context, c domain.Collection, fields store.Record, actor string) (int64, error)
	Update(ctx context.Context, c domain.Collection, id int64, fields store.Record, actor string) error
	SoftDelete(ctx context.Context, c domain.Collection, id int64, actor string) error
}

// Failure classes reported for execution errors.
const (
	FailureNotFound  = "not_found"
	FailureConflict  = "conflict"
	FailureTransient = "transient"
	FailureInvalid   = "invalid"
	FailureInternal  = "internal"
)

// Result is the outcome of one executed call.
type Result struct {
	Tool       string            `json:"tool"`
	Collection domain.Collection `json:"collection"`
	ID         int64             `json:"id,omitempty"`
	Row        store.Record      `json:"row,omitempty"`
	Rows       []store.Record    `json:"rows,omitempty"`
	Message    string            `json:"message"`
}

// Config tunes retries and per-attempt timeouts.
type Config struct {
	Backoff        shared.Backoff
	AttemptTimeout time.Duration
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Backoff:        shared.DefaultBackoff,
		AttemptTimeout: 3 * time.Second,
	}
}

// Executor is a thin pass-through to the fleet store.
type Executor struct {
	repo   Repository
	cfg    Config
	logger *slog.Logger
}

// New creates an Executor.
func New(repo Repository, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	return &Executor{repo: repo, cfg: cfg, logger: logger}
}

// FailureKind classifies an execution error.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errdefs.IsNotFound(err):
		return FailureNotFound
	case errdefs.IsConflict(err):
		return FailureConflict
	case errdefs.IsUnavailable(err), errors.Is(err, context.DeadlineExceeded):
		return FailureTransient
	case errdefs.IsInvalidArgument(err):
		return FailureInvalid
	default:
		return FailureInternal
	}
}

func retryable(err error) bool {
	return FailureKind(err) == FailureTransient
}

// Execute runs a resolved call on behalf of actor.
func (e *Executor) Execute(ctx context.Context, call domain.ResolvedCall, actor string) (*Result, error) {
	tool := call.Tool
	if tool.Operation.Targeted() && call.Target == nil {
		return nil, fmt.Errorf("%s: no target: %w", tool.Name, errdefs.ErrInvalidArgument)
	}

	var result *Result
	err := shared.Retry(ctx, e.cfg.Backoff, retryable, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()

		r, err := e.run(attemptCtx, call, actor)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		e.logger.Warn("Execution failed",
			"tool", tool.Name,
			"collection", tool.Collection,
			"failure", FailureKind(err),
			"error", err)
		return nil, fmt.Errorf("%s: %w", tool.Name, err)
	}

	e.logger.Info("Executed tool call", "tool", tool.Name, "collection", tool.Collection, "id", result.ID)
	return result, nil
}

func (e *Executor) run(ctx context.Context, call domain.ResolvedCall, actor string) (*Result, error) {
	tool := call.Tool
	c := tool.Collection
	res := &Result{Tool: tool.Name, Collection: c}
	if call.Target != nil {
		res.ID = call.Target.ID
	}

	switch tool.Operation {
	case domain.OpList:
		rows, err := e.repo.List(ctx, c)
		if err != nil {
			return nil, err
		}
		res.Rows = rows
		res.Message = fmt.Sprintf("Found %d %s.", len(rows), plural(c, len(rows)))

	case domain.OpGet:
		row, err := e.repo.Get(ctx, c, call.Target.ID)
		if err != nil {
			return nil, err
		}
		res.Row = row
		res.Message = describeRow(tool, call.Target, row)

	case domain.OpCreate:
		fields, err := Fields(call.Call.Args, nil)
		if err != nil {
			return nil, err
		}
		id, err := e.repo.Insert(ctx, c, fields, actor)
		if err != nil {
			return nil, err
		}
		res.ID = id
		res.Message = fmt.Sprintf("Created %s %d.", c.Singular(), id)

	case domain.OpUpdate:
		fields, err := Fields(call.Call.Args, TargetKeys(tool))
		if err != nil {
			return nil, err
		}
		if err := e.repo.Update(ctx, c, call.Target.ID, fields, actor); err != nil {
			return nil, err
		}
		res.Message = fmt.Sprintf("Updated %s %s.", c.Singular(), quoteLabel(call.Target))

	case domain.OpDelete:
		if err := e.repo.SoftDelete(ctx, c, call.Target.ID, actor); err != nil {
			return nil, err
		}
		if tool.ViaTrip || c == domain.CollectionDeployments {
			res.Message = fmt.Sprintf("Removed the vehicle deployment from %s.", quoteLabel(call.Target))
		} else {
			res.Message = fmt.Sprintf("Deleted %s %s.", c.Singular(), quoteLabel(call.Target))
		}

	default:
		return nil, fmt.Errorf("operation %q: %w", tool.Operation, errdefs.ErrNotImplemented)
	}
	return res, nil
}

func describeRow(tool domain.Tool, target *domain.EntityRef, row store.Record) string {
	if tool.Collection == domain.CollectionTrips {
		return fmt.Sprintf("Trip %s is %v, %v%% booked (%v bookings), live status %q.",
			quoteLabel(target), row["status"], row["booking_status_percentage"], row["total_bookings"], fmt.Sprint(valueOr(row["live_status"], "")))
	}
	return fmt.Sprintf("Found %s %s.", tool.Collection.Singular(), quoteLabel(target))
}

func valueOr(v, fallback any) any {
	if v == nil {
		return fallback
	}
	return v
}

func quoteLabel(ref *domain.EntityRef) string {
	if ref == nil {
		return ""
	}
	if ref.Label != "" {
		return "'" + ref.Label + "'"
	}
	return fmt.Sprintf("%d", ref.ID)
}

func plural(c domain.Collection, n int) string {
	if n == 1 {
		return c.Singular()
	}
	if c == domain.CollectionTrips {
		return "trips"
	}
	return string(c)
}
