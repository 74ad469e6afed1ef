package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/containerd/errdefs"
)

// ConsequenceReader is the live-view access consequence strategies need.
type ConsequenceReader interface {
	GetTrip(ctx context.Context, tripID int64) (*domain.Trip, error)
	GetDeployment(ctx context.Context, deploymentID int64) (*domain.Deployment, error)
	ActiveDeploymentForTrip(ctx context.Context, tripID int64) (*domain.Deployment, error)
	RouteTripStats(ctx context.Context, routeID int64) (domain.RouteTripStats, error)
	CountRoutesUsingPath(ctx context.Context, pathID int64) (int, error)
}

type strategy func(ctx context.Context, r ConsequenceReader, target domain.EntityRef, s *domain.ConsequenceSummary) error

var strategies = map[domain.ActionKind]strategy{
	domain.KindDeleteDeployment: deploymentRemoval,
	domain.KindDeleteTrip:       tripDeletion,
	domain.KindDeleteRoute:      routeDeletion,
	domain.KindDeletePath:       pathDeletion,
}

// Evaluator computes the downstream impact of destructive actions.
type Evaluator struct {
	reader  ConsequenceReader
	timeout time.Duration
	logger  *slog.Logger
}

// NewEvaluator creates an Evaluator whose reads are bounded by timeout.
func NewEvaluator(reader ConsequenceReader, timeout time.Duration, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Evaluator{reader: reader, timeout: timeout, logger: logger}
}

// Evaluate returns the impact summary for a destructive action. A failed read
// yields an Unknown summary, never an empty one.
func (e *Evaluator) Evaluate(ctx context.Context, kind domain.ActionKind, target domain.EntityRef) domain.ConsequenceSummary {
	summary := domain.ConsequenceSummary{Kind: kind, TargetLabel: target.Label}

	run, ok := strategies[kind]
	if !ok {
		summary.Unknown = true
		summary.Reason = fmt.Sprintf("no impact check for %s", kind)
		return summary
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := run(ctx, e.reader, target, &summary); err != nil {
		e.logger.Warn("Consequence evaluation failed, impact unknown",
			"kind", kind,
			"target_id", target.ID,
			"error", err)
		return domain.ConsequenceSummary{
			Kind:        kind,
			TargetLabel: labelOr(summary.TargetLabel, target),
			Unknown:     true,
			Reason:      err.Error(),
		}
	}
	if summary.TargetLabel == "" {
		summary.TargetLabel = labelOr("", target)
	}
	return summary
}

func labelOr(label string, target domain.EntityRef) string {
	if label != "" {
		return label
	}
	return fmt.Sprintf("%s %d", target.Collection.Singular(), target.ID)
}

func fillTrip(s *domain.ConsequenceSummary, trip *domain.Trip) {
	s.TripID = trip.TripID
	s.TripName = trip.DisplayName
	s.BookingPercentage = trip.BookingPercentage
	s.TotalBookings = trip.TotalBookings
	s.TripStatus = trip.Status
	s.LiveStatus = trip.LiveStatus
	s.TripLive = trip.Live()
}

func deploymentRemoval(ctx context.Context, r ConsequenceReader, target domain.EntityRef, s *domain.ConsequenceSummary) error {
	dep, err := r.GetDeployment(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("read deployment: %w", err)
	}
	trip, err := r.GetTrip(ctx, dep.TripID)
	if err != nil {
		return fmt.Errorf("read trip of deployment: %w", err)
	}
	fillTrip(s, trip)
	if s.TargetLabel == "" {
		s.TargetLabel = trip.DisplayName
	}
	return nil
}

func tripDeletion(ctx context.Context, r ConsequenceReader, target domain.EntityRef, s *domain.ConsequenceSummary) error {
	trip, err := r.GetTrip(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("read trip: %w", err)
	}
	fillTrip(s, trip)
	if s.TargetLabel == "" {
		s.TargetLabel = trip.DisplayName
	}

	_, err = r.ActiveDeploymentForTrip(ctx, target.ID)
	switch {
	case err == nil:
		s.HasActiveDeployment = true
	case errdefs.IsNotFound(err):
	default:
		return fmt.Errorf("read trip deployment: %w", err)
	}
	return nil
}

func routeDeletion(ctx context.Context, r ConsequenceReader, target domain.EntityRef, s *domain.ConsequenceSummary) error {
	stats, err := r.RouteTripStats(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("count route trips: %w", err)
	}
	s.ActiveTrips = stats.ActiveTrips
	s.BookedTrips = stats.BookedTrips
	return nil
}

func pathDeletion(ctx context.Context, r ConsequenceReader, target domain.EntityRef, s *domain.ConsequenceSummary) error {
	n, err := r.CountRoutesUsingPath(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("count path routes: %w", err)
	}
	s.ReferencingRoutes = n
	return nil
}
