package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/dshills/stepflow-go/workflow/store"
)

// CheckpointInfo identifies one durable engine snapshot taken at a
// superstep boundary. It is immutable once created and is the handle passed
// to resume operations.
type CheckpointInfo struct {
	// RunID is the workflow run this checkpoint belongs to.
	RunID string `json:"run_id"`

	// Superstep is the boundary index the snapshot was taken at. Resuming
	// continues with superstep Superstep+1.
	Superstep int `json:"superstep"`

	// Hash is a content hash of the snapshot, format "sha256:<hex>".
	Hash string `json:"hash"`

	// CreatedAt records when the snapshot was captured.
	CreatedAt time.Time `json:"created_at"`
}

// envelopeValue is a message payload encoded with its type name so it can be
// decoded back to the concrete Go type on resume.
type envelopeValue struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// envelope is one frontier delivery in serialized form.
type envelope struct {
	Target string        `json:"target"`
	Source string        `json:"source"`
	Seq    int           `json:"seq"`
	Value  envelopeValue `json:"value"`
}

// checkpointBlob is the full logical content of a checkpoint. The engine
// defines this shape; the store persists it as an opaque blob.
type checkpointBlob struct {
	RunID     string                           `json:"run_id"`
	Superstep int                              `json:"superstep"`
	Frontier  []envelope                       `json:"frontier"`
	State     map[string]map[string]StateEntry `json:"state,omitempty"`
	FanIn     map[string][]envelopeValue       `json:"fan_in,omitempty"`
	Executors map[string]json.RawMessage       `json:"executors,omitempty"`
	Output    *envelopeValue                   `json:"output,omitempty"`
	Yielded   bool                             `json:"yielded,omitempty"`
	Hash      string                           `json:"hash"`
	CreatedAt time.Time                        `json:"created_at"`
}

// typeBinder is implemented by executors that need the workflow's type
// registry to serialize their instance state (the turn gate's buffer).
type typeBinder interface {
	bindTypes(*typeRegistry)
}

// typeRegistry maps stable type names to reflect.Types for checkpoint
// round-trips. It is built once at graph-build time from every executor's
// declared message types, so anything routable is restorable.
type typeRegistry struct {
	byName map[string]reflect.Type
}

func newTypeRegistry() *typeRegistry {
	r := &typeRegistry{byName: make(map[string]reflect.Type)}
	for _, t := range []reflect.Type{
		reflect.TypeOf(""),
		reflect.TypeOf(false),
		reflect.TypeOf(0),
		reflect.TypeOf(int64(0)),
		reflect.TypeOf(float64(0)),
		reflect.TypeOf(map[string]any(nil)),
		reflect.TypeOf(TurnToken{}),
	} {
		r.register(t)
	}
	return r
}

// typeName derives a stable registry key for t. Named types use the full
// package path; unnamed composites are built structurally. Arrays share the
// name of the corresponding slice type, since checkpoints store sequences as
// slices.
func typeName(t reflect.Type) string {
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return "[]" + typeName(t.Elem())
	case reflect.Pointer:
		return "*" + typeName(t.Elem())
	case reflect.Map:
		return "map[" + typeName(t.Key()) + "]" + typeName(t.Elem())
	default:
		return t.String()
	}
}

// register adds t, its sequence form, and its element type to the registry.
func (r *typeRegistry) register(t reflect.Type) {
	name := typeName(t)
	if _, ok := r.byName[name]; ok {
		return
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		r.byName[name] = reflect.SliceOf(t.Elem())
		r.register(t.Elem())
	case reflect.Pointer:
		r.byName[name] = t
		r.register(t.Elem())
	default:
		r.byName[name] = t
		// Fan-in aggregation delivers []T, so every registered T must have
		// its slice form restorable too.
		r.byName["[]"+name] = reflect.SliceOf(t)
	}
}

// encodeValue serializes v with its type name. Unknown types are a
// checkpoint fault: the value was never declared by any executor, so a
// resumed run could not route it anyway.
func (r *typeRegistry) encodeValue(v any) (envelopeValue, error) {
	if v == nil {
		return envelopeValue{}, newError(CodeCheckpoint, "cannot encode nil message", nil)
	}
	t := reflect.TypeOf(v)
	name := typeName(t)
	if _, ok := r.byName[name]; !ok {
		return envelopeValue{}, newError(CodeCheckpoint,
			fmt.Sprintf("message type %s is not declared by any executor", name), ErrNotRestorable)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return envelopeValue{}, newError(CodeCheckpoint,
			fmt.Sprintf("marshal %s: %v", name, err), err)
	}
	return envelopeValue{Type: name, Data: data}, nil
}

// decodeValue reconstructs the concrete Go value from an envelope.
func (r *typeRegistry) decodeValue(env envelopeValue) (any, error) {
	t, ok := r.byName[env.Type]
	if !ok {
		return nil, newError(CodeCheckpoint,
			fmt.Sprintf("unknown message type %q in checkpoint", env.Type), ErrNotRestorable)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(env.Data, ptr.Interface()); err != nil {
		return nil, newError(CodeCheckpoint,
			fmt.Sprintf("unmarshal %s: %v", env.Type, err), err)
	}
	return ptr.Elem().Interface(), nil
}

// CheckpointManager captures and restores full engine state at superstep
// boundaries, delegating durable storage to a store.Store behind the simple
// blob contract.
//
// Capture is synchronous with superstep completion: the Runner invokes it at
// the barrier, never overlapping the next superstep's dispatch phase.
type CheckpointManager struct {
	store store.Store
	types *typeRegistry
}

// NewCheckpointManager wires a manager to a durable store. Runners construct
// one automatically when the WithCheckpoints option is used; standalone
// construction is for tooling that inspects checkpoints outside a run.
func NewCheckpointManager(st store.Store, wf *Workflow) *CheckpointManager {
	return &CheckpointManager{store: st, types: wf.types}
}

func newCheckpointManager(st store.Store, types *typeRegistry) *CheckpointManager {
	return &CheckpointManager{store: st, types: types}
}

// save encodes and persists a blob, filling in hash and timestamp.
func (m *CheckpointManager) save(ctx context.Context, blob *checkpointBlob) (CheckpointInfo, error) {
	blob.CreatedAt = time.Now().UTC()
	blob.Hash = ""

	unhashed, err := json.Marshal(blob)
	if err != nil {
		return CheckpointInfo{}, newError(CodeCheckpoint, "encode checkpoint: "+err.Error(), err)
	}
	sum := sha256.Sum256(unhashed)
	blob.Hash = "sha256:" + hex.EncodeToString(sum[:])

	data, err := json.Marshal(blob)
	if err != nil {
		return CheckpointInfo{}, newError(CodeCheckpoint, "encode checkpoint: "+err.Error(), err)
	}
	if err := m.store.SaveCheckpoint(ctx, blob.RunID, blob.Superstep, data); err != nil {
		return CheckpointInfo{}, newError(CodeCheckpoint, "persist checkpoint: "+err.Error(), err)
	}

	return CheckpointInfo{
		RunID:     blob.RunID,
		Superstep: blob.Superstep,
		Hash:      blob.Hash,
		CreatedAt: blob.CreatedAt,
	}, nil
}

// load retrieves and decodes the checkpoint for (runID, superstep).
func (m *CheckpointManager) load(ctx context.Context, runID string, superstep int) (*checkpointBlob, error) {
	data, err := m.store.LoadCheckpoint(ctx, runID, superstep)
	if err != nil {
		return nil, err
	}
	return decodeBlob(data)
}

// latest retrieves the most recent checkpoint for runID.
func (m *CheckpointManager) latest(ctx context.Context, runID string) (*checkpointBlob, error) {
	data, _, err := m.store.LoadLatest(ctx, runID)
	if err != nil {
		return nil, err
	}
	return decodeBlob(data)
}

// List returns the superstep indices with stored checkpoints for runID, in
// ascending order.
func (m *CheckpointManager) List(ctx context.Context, runID string) ([]int, error) {
	return m.store.ListCheckpoints(ctx, runID)
}

// Info returns the CheckpointInfo for a stored checkpoint without decoding
// the full frontier.
func (m *CheckpointManager) Info(ctx context.Context, runID string, superstep int) (CheckpointInfo, error) {
	blob, err := m.load(ctx, runID, superstep)
	if err != nil {
		return CheckpointInfo{}, err
	}
	return CheckpointInfo{
		RunID:     blob.RunID,
		Superstep: blob.Superstep,
		Hash:      blob.Hash,
		CreatedAt: blob.CreatedAt,
	}, nil
}

func decodeBlob(data []byte) (*checkpointBlob, error) {
	var blob checkpointBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, newError(CodeCheckpoint, "decode checkpoint: "+err.Error(), err)
	}
	return &blob, nil
}
