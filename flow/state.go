package flow

import (
	"encoding/json"
	"fmt"
)

// deepCopyMap copies an output map via JSON round-trip. Audit entries and
// the resume path snapshot maps this way so the report stays stable after
// handlers or the caller mutate the originals.
//
// The round-trip handles anything JSON-marshalable: primitives, nested
// maps, slices, structs with exported fields. Channels and functions do
// not survive it; handler outputs never contain them.
func deepCopyMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal map: %w", err)
	}
	var copied map[string]any
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal map: %w", err)
	}
	return copied, nil
}

// mergeOutputs shallow-merges dependency outputs in the given order; a
// later map overwrites colliding keys. The order is the node's
// dependencies-array order, so authors control precedence by edge
// declaration order.
func mergeOutputs(outputs []map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, out := range outputs {
		for k, v := range out {
			merged[k] = v
		}
	}
	return merged
}
