package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MongoDocStore implements DocStore on MongoDB. Project state lives in one
// collection keyed by "client/app/project/mode"; run artifacts in another,
// merged by deep-extend on update.
type MongoDocStore struct {
	client    *mongo.Client
	states    *mongo.Collection
	artifacts *mongo.Collection
	timeout   time.Duration
}

// MongoOptions configures the Mongo-backed document store.
type MongoOptions struct {
	URI                string
	Database           string
	StateCollection    string
	ArtifactCollection string
	Timeout            time.Duration
}

// NewMongoDocStore connects to MongoDB and verifies reachability.
func NewMongoDocStore(ctx context.Context, opts MongoOptions) (*MongoDocStore, error) {
	if opts.URI == "" || opts.Database == "" {
		return nil, errors.New("mongo uri and database are required")
	}
	if opts.StateCollection == "" {
		opts.StateCollection = "laboratory_states"
	}
	if opts.ArtifactCollection == "" {
		opts.ArtifactCollection = "workflow_results"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo unreachable: %w", err)
	}

	db := client.Database(opts.Database)
	return &MongoDocStore{
		client:    client,
		states:    db.Collection(opts.StateCollection),
		artifacts: db.Collection(opts.ArtifactCollection),
		timeout:   opts.Timeout,
	}, nil
}

// Close disconnects the underlying client.
func (s *MongoDocStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// LoadProjectState fetches the per-mode state document.
func (s *MongoDocStore) LoadProjectState(ctx context.Context, key StateKey) (*ProjectState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var state ProjectState
	err := s.states.FindOne(ctx, bson.M{"_id": key.ID()}).Decode(&state)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: project state %s", ErrNotFound, key.ID())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project state: %w", err)
	}
	return &state, nil
}

// SaveProjectState writes the per-mode state document (full replace).
func (s *MongoDocStore) SaveProjectState(ctx context.Context, key StateKey, state *ProjectState) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	state.ID = key.ID()
	state.Mode = key.Mode
	state.UpdatedAt = time.Now().UTC()
	_, err := s.states.ReplaceOne(ctx, bson.M{"_id": state.ID}, state,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save project state: %w", err)
	}
	return nil
}

// MergeRunArtifact deep-extends doc into the stored artifact document.
func (s *MongoDocStore) MergeRunArtifact(ctx context.Context, key ArtifactKey, doc map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	existing := map[string]any{}
	var raw bson.M
	err := s.artifacts.FindOne(ctx, bson.M{"_id": key.ID()}).Decode(&raw)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		// First write for this key.
	case err != nil:
		return fmt.Errorf("failed to load run artifact: %w", err)
	default:
		existing = plainMap(raw)
	}

	merged := DeepExtend(existing, doc)
	merged["_id"] = key.ID()
	merged["updated_at"] = time.Now().UTC()

	_, err = s.artifacts.ReplaceOne(ctx, bson.M{"_id": key.ID()}, merged,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save run artifact: %w", err)
	}
	return nil
}

// LoadRunArtifact fetches an artifact document as a plain map.
func (s *MongoDocStore) LoadRunArtifact(ctx context.Context, key ArtifactKey) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var raw bson.M
	err := s.artifacts.FindOne(ctx, bson.M{"_id": key.ID()}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: run artifact %s", ErrNotFound, key.ID())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run artifact: %w", err)
	}
	return plainMap(raw), nil
}

// plainMap converts BSON container types (bson.M, bson.D, bson.A) into
// plain maps and slices so DeepExtend's type switches apply.
func plainMap(m bson.M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return plainMap(t)
	case map[string]any:
		return plainMap(t)
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plainValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	default:
		return v
	}
}
