// Package store provides the fleet database: keyed CRUD over named
// collections with soft delete, plus the live-view reads used to judge
// the impact of destructive actions.
package store

import (
	"context"

	"github.com/ashureev/fleetguard/internal/domain"
)

// Record is a row of a named collection keyed by column name.
type Record map[string]any

// Match is a row found by display name.
type Match struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// Repository is the fleet database. Every read excludes soft-deleted rows.
//
// Failures carry containerd/errdefs classes: errdefs.ErrNotFound for a
// missing live row, errdefs.ErrConflict for constraint violations,
// errdefs.ErrUnavailable for lock contention and errdefs.ErrInvalidArgument
// for unknown collections or fields.
type Repository interface {
	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// List returns all live rows of a collection ordered by primary key.
	List(ctx context.Context, c domain.Collection) ([]Record, error)

	// Get returns one live row.
	Get(ctx context.Context, c domain.Collection, id int64) (Record, error)

	// Insert creates a row and returns its primary key.
	Insert(ctx context.Context, c domain.Collection, fields Record, actor string) (int64, error)

	// Update changes writable fields of a live row.
	Update(ctx context.Context, c domain.Collection, id int64, fields Record, actor string) error

	// SoftDelete marks a live row deleted.
	SoftDelete(ctx context.Context, c domain.Collection, id int64, actor string) error

	// FindByName matches live rows by display name, case-insensitively.
	// Exact matches are returned alone when present; otherwise substring matches.
	FindByName(ctx context.Context, c domain.Collection, name string) ([]Match, error)

	// GetTrip returns a live trip.
	GetTrip(ctx context.Context, tripID int64) (*domain.Trip, error)

	// GetDeployment returns a live deployment.
	GetDeployment(ctx context.Context, deploymentID int64) (*domain.Deployment, error)

	// ActiveDeploymentForTrip returns the live deployment of a trip.
	ActiveDeploymentForTrip(ctx context.Context, tripID int64) (*domain.Deployment, error)

	// RouteTripStats counts non-cancelled trips on a route and how many are booked.
	RouteTripStats(ctx context.Context, routeID int64) (domain.RouteTripStats, error)

	// CountRoutesUsingPath counts live routes referencing a path.
	CountRoutesUsingPath(ctx context.Context, pathID int64) (int, error)

	// Seed loads demo data into an empty database. It is a no-op otherwise.
	Seed(ctx context.Context) error
}
