package executor

import (
	"fmt"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/ashureev/fleetguard/internal/store"
	"github.com/containerd/errdefs"
)

// TargetKeys returns the argument names that address a tool's target.
func TargetKeys(tool domain.Tool) []string {
	return tool.TargetKeys()
}

// Fields extracts the column values of a create or update call. An explicit
// "fields" object wins; otherwise every argument except the excluded target
// keys is a field.
func Fields(args map[string]any, exclude []string) (store.Record, error) {
	if raw, ok := args["fields"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("fields must be an object: %w", errdefs.ErrInvalidArgument)
		}
		return store.Record(m), nil
	}

	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}
	fields := make(store.Record, len(args))
	for k, v := range args {
		if skip[k] {
			continue
		}
		fields[k] = v
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields given: %w", errdefs.ErrInvalidArgument)
	}
	return fields, nil
}
