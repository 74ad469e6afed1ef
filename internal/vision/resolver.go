// Package vision turns an uploaded screenshot into an entity hint resolved
// against the live fleet tables.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/fleetguard/internal/domain"
)

// NoEntity is reported when an image identifies no live row.
const NoEntity = "no entity identified"

// NameResolver is the same name lookup the classifier uses.
type NameResolver interface {
	ResolveName(ctx context.Context, c domain.Collection, name string) (*domain.EntityRef, error)
}

var entityTypes = map[string]domain.Collection{
	"trip":       domain.CollectionTrips,
	"daily_trip": domain.CollectionTrips,
	"deployment": domain.CollectionTrips,
	"route":      domain.CollectionRoutes,
	"path":       domain.CollectionPaths,
	"stop":       domain.CollectionStops,
	"vehicle":    domain.CollectionVehicles,
	"bus":        domain.CollectionVehicles,
	"driver":     domain.CollectionDrivers,
}

// Resolver extracts and resolves entity hints.
type Resolver struct {
	extractor Extractor
	names     NameResolver
	now       func() time.Time
	logger    *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(extractor Extractor, names NameResolver, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{extractor: extractor, names: names, now: time.Now, logger: logger}
}

// Resolve reads image and matches the named entity among the allowed
// collections. It never fails: an unreadable image or an unmatched name
// yields a zero-confidence context that says no entity was identified.
func (r *Resolver) Resolve(ctx context.Context, image []byte, instruction string, allowed []domain.Collection) *domain.VisionContext {
	vc := &domain.VisionContext{CreatedAt: r.now()}

	ext, err := r.extractor.Extract(ctx, image, instruction)
	if err != nil {
		r.logger.Warn("Vision extraction failed", "error", err)
		vc.Note = fmt.Sprintf("%s (%s)", NoEntity, failureNote(err))
		return vc
	}

	vc.EntityName = ext.EntityName
	vc.SuggestedOperation = ext.SuggestedOperation
	vc.Confidence = ext.Confidence
	vc.Reasoning = ext.Reasoning

	if ext.EntityName == "" || ext.Confidence == 0 {
		vc.Confidence = 0
		vc.Note = NoEntity
		return vc
	}

	for _, c := range candidates(ext.EntityType, allowed) {
		ref, err := r.names.ResolveName(ctx, c, ext.EntityName)
		if err != nil {
			continue
		}
		vc.Resolved = ref
		return vc
	}

	r.logger.Info("Vision entity did not match a live row",
		"entity", ext.EntityName,
		"entity_type", ext.EntityType,
		"confidence", ext.Confidence)
	vc.Confidence = 0
	vc.Note = NoEntity
	return vc
}

// candidates orders the collections to search: the hinted type first, then
// the rest of the page's set. Deployments are found through their trip.
func candidates(entityType string, allowed []domain.Collection) []domain.Collection {
	set := make(map[domain.Collection]bool, len(allowed))
	for _, c := range allowed {
		if c == domain.CollectionDeployments {
			c = domain.CollectionTrips
		}
		set[c] = true
	}

	var out []domain.Collection
	if hint, ok := entityTypes[strings.ToLower(strings.TrimSpace(entityType))]; ok && set[hint] {
		out = append(out, hint)
		delete(set, hint)
	}
	for _, c := range domain.AllCollections {
		if set[c] {
			out = append(out, c)
		}
	}
	return out
}

func failureNote(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedMedia):
		return "the upload is not a PNG, JPEG, GIF or WEBP image"
	case errors.Is(err, ErrTimeout):
		return "image analysis timed out"
	case errors.Is(err, ErrUnavailable):
		return "image analysis is unavailable"
	default:
		return "the image could not be read"
	}
}

// Describe renders a vision context for the operator and the model prompt.
// Unresolved readings are shown verbatim so a misread can be corrected.
func Describe(v *domain.VisionContext) string {
	if v == nil {
		return ""
	}
	conf := strconv.FormatFloat(v.Confidence, 'f', 2, 64)
	if !v.Identified() {
		note := v.Note
		if note == "" {
			note = NoEntity
		}
		if v.EntityName != "" {
			return fmt.Sprintf("Image: %s. The image seemed to show %q but it matches nothing live (confidence %s).", note, v.EntityName, conf)
		}
		return fmt.Sprintf("Image: %s.", note)
	}
	msg := fmt.Sprintf("Image shows %s %q (id %d, confidence %s)",
		v.Resolved.Collection.Singular(), v.Resolved.Label, v.Resolved.ID, conf)
	if v.SuggestedOperation != "" {
		msg += fmt.Sprintf(", suggested operation %q", v.SuggestedOperation)
	}
	return msg + "."
}
