package guard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/ashureev/fleetguard/internal/store"
	"github.com/containerd/errdefs"
)

var (
	// ErrUnknownTool is returned for a tool name outside the catalog.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMissingTarget is returned when a targeted call names no row.
	ErrMissingTarget = errors.New("no target given")
	// ErrUnresolvedTarget is returned when a name matches no live row.
	ErrUnresolvedTarget = errors.New("target not found")
	// ErrAmbiguousTarget is returned when a name matches several live rows.
	ErrAmbiguousTarget = errors.New("target is ambiguous")
)

// ResolutionError describes a failed name lookup for the operator.
type ResolutionError struct {
	Collection domain.Collection
	Name       string
	Candidates []string
	Err        error
}

func (e *ResolutionError) Error() string {
	noun := e.Collection.Singular()
	switch {
	case errors.Is(e.Err, ErrAmbiguousTarget):
		return fmt.Sprintf("%q matches several %s rows: %s", e.Name, noun, strings.Join(e.Candidates, ", "))
	case errors.Is(e.Err, ErrMissingTarget):
		return fmt.Sprintf("no %s was specified", noun)
	default:
		if e.Name == "" {
			return fmt.Sprintf("%s: %v", noun, e.Err)
		}
		return fmt.Sprintf("no %s matches %q", noun, e.Name)
	}
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// EntityLookup is the read access name resolution needs.
type EntityLookup interface {
	FindByName(ctx context.Context, c domain.Collection, name string) ([]store.Match, error)
	ActiveDeploymentForTrip(ctx context.Context, tripID int64) (*domain.Deployment, error)
}

// EntityResolver turns ids or display names into concrete rows.
type EntityResolver struct {
	lookup EntityLookup
}

// NewEntityResolver creates an EntityResolver.
func NewEntityResolver(lookup EntityLookup) *EntityResolver {
	return &EntityResolver{lookup: lookup}
}

// ResolveName finds the single live row of c whose display name matches name.
// Deployments are addressed through their trip's name.
func (r *EntityResolver) ResolveName(ctx context.Context, c domain.Collection, name string) (*domain.EntityRef, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ResolutionError{Collection: c, Err: ErrMissingTarget}
	}
	if c == domain.CollectionDeployments {
		trip, err := r.ResolveName(ctx, domain.CollectionTrips, name)
		if err != nil {
			return nil, err
		}
		return r.deploymentForTrip(ctx, trip)
	}

	matches, err := r.lookup.FindByName(ctx, c, name)
	if err != nil {
		return nil, &ResolutionError{Collection: c, Name: name, Err: fmt.Errorf("%w: %w", ErrUnresolvedTarget, err)}
	}
	switch len(matches) {
	case 0:
		return nil, &ResolutionError{Collection: c, Name: name, Err: ErrUnresolvedTarget}
	case 1:
		return &domain.EntityRef{Collection: c, ID: matches[0].ID, Label: matches[0].Label}, nil
	default:
		labels := make([]string, 0, len(matches))
		for _, m := range matches {
			labels = append(labels, fmt.Sprintf("%s (%d)", m.Label, m.ID))
		}
		return nil, &ResolutionError{Collection: c, Name: name, Candidates: labels, Err: ErrAmbiguousTarget}
	}
}

func (r *EntityResolver) deploymentForTrip(ctx context.Context, trip *domain.EntityRef) (*domain.EntityRef, error) {
	dep, err := r.lookup.ActiveDeploymentForTrip(ctx, trip.ID)
	if err != nil {
		name := trip.Label
		if name == "" {
			name = strconv.FormatInt(trip.ID, 10)
		}
		if errdefs.IsNotFound(err) {
			return nil, &ResolutionError{
				Collection: domain.CollectionDeployments,
				Name:       name,
				Err:        fmt.Errorf("%w: trip %s has no vehicle deployed", ErrUnresolvedTarget, name),
			}
		}
		return nil, &ResolutionError{Collection: domain.CollectionDeployments, Name: name, Err: fmt.Errorf("%w: %w", ErrUnresolvedTarget, err)}
	}
	return &domain.EntityRef{Collection: domain.CollectionDeployments, ID: dep.DeploymentID, Label: trip.Label}, nil
}

// ResolveTarget reads the target of a targeted tool call from its arguments.
// A primary key is used as given; anything else is looked up by name.
func (r *EntityResolver) ResolveTarget(ctx context.Context, tool domain.Tool, args map[string]any) (*domain.EntityRef, error) {
	for _, key := range tool.IDKeys() {
		raw, ok := args[key]
		if !ok || raw == nil {
			continue
		}
		if id, ok := asID(raw); ok {
			if tool.ViaTrip {
				return r.deploymentForTrip(ctx, &domain.EntityRef{Collection: domain.CollectionTrips, ID: id})
			}
			return &domain.EntityRef{Collection: tool.Collection, ID: id}, nil
		}
		// A non-numeric id is a display name.
		if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
			return r.ResolveName(ctx, tool.Collection, s)
		}
	}

	for _, key := range tool.NameKeys() {
		if s, ok := args[key].(string); ok && strings.TrimSpace(s) != "" {
			return r.ResolveName(ctx, tool.Collection, s)
		}
	}
	return nil, &ResolutionError{Collection: tool.Collection, Err: ErrMissingTarget}
}

func asID(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), n > 0
	case int64:
		return n, n > 0
	case float64:
		if n <= 0 || n != math.Trunc(n) || n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return id, err == nil && id > 0
	default:
		return 0, false
	}
}
