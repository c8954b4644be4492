// Package wire converts dashboard snapshots to and from their protobuf
// form.  The payload is a google.protobuf.Struct carrying the same field
// names as the JSON encoding.
package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
)

func SnapshotToStruct(s types.Snapshot) (*structpb.Struct, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("snapshot struct: %w", err)
	}
	return st, nil
}

func SnapshotFromStruct(st *structpb.Struct) (types.Snapshot, error) {
	raw, err := protojson.Marshal(st)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("marshal struct: %w", err)
	}
	var s types.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
