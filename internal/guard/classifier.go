// Package guard decides, per proposed tool call, whether it may run now,
// what it would break, and whether the operator must confirm it first.
package guard

import (
	"context"
	"fmt"

	"github.com/ashureev/fleetguard/internal/domain"
)

type opKey struct {
	collection domain.Collection
	operation  domain.Operation
}

// destructiveOps lists the (collection, operation) pairs whose effect is
// irreversible or cascades into dependent rows.
var destructiveOps = map[opKey]domain.ActionKind{
	{domain.CollectionDeployments, domain.OpDelete}: domain.KindDeleteDeployment,
	{domain.CollectionTrips, domain.OpDelete}:       domain.KindDeleteTrip,
	{domain.CollectionRoutes, domain.OpDelete}:      domain.KindDeleteRoute,
	{domain.CollectionPaths, domain.OpDelete}:       domain.KindDeletePath,
}

// KindOf returns the action kind of a catalog tool.
func KindOf(tool domain.Tool) domain.ActionKind {
	if kind, ok := destructiveOps[opKey{tool.Collection, tool.Operation}]; ok {
		return kind
	}
	return domain.KindBenign
}

// Classifier flags destructive tool calls and resolves their targets.
type Classifier struct {
	resolver *EntityResolver
}

// NewClassifier creates a Classifier.
func NewClassifier(resolver *EntityResolver) *Classifier {
	return &Classifier{resolver: resolver}
}

// LookupTool returns the catalog entry for a proposed call. Names outside the
// catalog are a hard failure.
func LookupTool(call domain.ToolCall) (domain.Tool, error) {
	tool, ok := domain.LookupTool(call.Name)
	if !ok {
		return domain.Tool{}, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
	return tool, nil
}

// Classify resolves a proposed call into a typed action. Targeted calls must
// resolve to exactly one live row; an unresolvable name is an error, never a
// benign pass-through.
func (c *Classifier) Classify(ctx context.Context, call domain.ToolCall) (*domain.ResolvedCall, error) {
	tool, err := LookupTool(call)
	if err != nil {
		return nil, err
	}

	resolved := &domain.ResolvedCall{
		Tool: tool,
		Call: call,
		Kind: KindOf(tool),
	}
	if !tool.Operation.Targeted() {
		return resolved, nil
	}

	target, err := c.resolver.ResolveTarget(ctx, tool, call.Args)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", tool.Name, err)
	}
	resolved.Target = target
	return resolved, nil
}
