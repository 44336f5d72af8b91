package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/store"
)

const runsCollection = "agent_runs"

// RunStore is a Mongo-backed store.RunStore, an alternative to
// internal/store/postgres for deployments that already run Mongo for run
// status and want to keep messages/projects elsewhere.
type RunStore struct {
	coll collection
}

// NewRunStore builds a RunStore against database on client, creating its
// unique run_id index if missing.
func NewRunStore(ctx context.Context, client *mongodriver.Client, database string) (*RunStore, error) {
	coll := newDriverCollection(client, database, runsCollection)
	if err := coll.EnsureIndexes(ctx); err != nil {
		return nil, errs.Wrap(errs.Internal, "ensure agent_runs indexes", err)
	}
	return &RunStore{coll: coll}, nil
}

var _ store.RunStore = (*RunStore)(nil)

type runDocument struct {
	RunID     string     `bson:"run_id"`
	ThreadID  string     `bson:"thread_id"`
	ProjectID string     `bson:"project_id"`
	Status    string     `bson:"status"`
	Error     string     `bson:"error,omitempty"`
	StartedAt time.Time  `bson:"started_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty"`
}

func (d runDocument) toRun() *model.AgentRun {
	return &model.AgentRun{
		RunID:     ids.ID(d.RunID),
		ThreadID:  ids.ID(d.ThreadID),
		ProjectID: ids.ID(d.ProjectID),
		Status:    model.RunStatus(d.Status),
		Error:     d.Error,
		StartedAt: d.StartedAt,
		EndedAt:   d.EndedAt,
	}
}

func fromRun(run *model.AgentRun) runDocument {
	return runDocument{
		RunID:     run.RunID.String(),
		ThreadID:  run.ThreadID.String(),
		ProjectID: run.ProjectID.String(),
		Status:    string(run.Status),
		Error:     run.Error,
		StartedAt: run.StartedAt,
		EndedAt:   run.EndedAt,
	}
}

func (r *RunStore) CreateRun(ctx context.Context, run *model.AgentRun) error {
	if err := r.coll.InsertOne(ctx, fromRun(run)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return errs.New(errs.Conflict, "run already exists: "+run.RunID.String())
		}
		return errs.Wrap(errs.Internal, "create agent run", err)
	}
	return nil
}

func (r *RunStore) UpdateStatus(ctx context.Context, runID ids.ID, status model.RunStatus, errMsg string, endedAt *time.Time) error {
	filter := bson.M{"run_id": runID.String()}
	update := bson.M{"$set": bson.M{
		"status":   string(status),
		"error":    errMsg,
		"ended_at": endedAt,
	}}
	matched, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return errs.Wrap(errs.Internal, "update agent run status", err)
	}
	if matched == 0 {
		return errs.New(errs.NotFound, "run not found: "+runID.String())
	}
	return nil
}

func (r *RunStore) GetRun(ctx context.Context, runID ids.ID) (*model.AgentRun, error) {
	var doc runDocument
	if err := r.coll.FindOne(ctx, bson.M{"run_id": runID.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, errs.New(errs.NotFound, "run not found: "+runID.String())
		}
		return nil, errs.Wrap(errs.Internal, "get agent run", err)
	}
	return doc.toRun(), nil
}

func (r *RunStore) ListByStatus(ctx context.Context, status model.RunStatus) ([]*model.AgentRun, error) {
	cur, err := r.coll.Find(ctx, bson.M{"status": string(status)})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list agent runs by status", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []*model.AgentRun
	for cur.Next(ctx) {
		var doc runDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.Wrap(errs.Internal, "scan agent run", err)
		}
		out = append(out, doc.toRun())
	}
	if err := cur.Err(); err != nil {
		return nil, errs.Wrap(errs.Internal, "list agent runs by status", err)
	}
	return out, nil
}
