// Package mongo implements a third store.RunStore backend on top of
// go.mongodb.org/mongo-driver/v2, mirroring the teacher's
// features/run/mongo/clients/mongo client: a thin collection interface
// wraps the driver so the store can be exercised against a fake in unit
// tests and a real server in the testcontainers-gated integration test.
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/loomrun/agentcore/internal/errs"
)

const defaultOpTimeout = 5 * time.Second

// collection abstracts the one collection the RunStore needs, so tests can
// substitute a fake without a live server.
type collection interface {
	InsertOne(ctx context.Context, doc any) error
	FindOne(ctx context.Context, filter bson.M) singleResult
	Find(ctx context.Context, filter bson.M) (cursor, error)
	UpdateOne(ctx context.Context, filter, update bson.M) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

// Connect opens a client against uri and pings it so connection errors
// surface immediately rather than on the first real query. Callers must
// Disconnect it. The v2 driver's own Connect takes no context (it
// connects lazily); the Ping below is what actually blocks on uri being
// reachable.
func Connect(ctx context.Context, uri string) (*mongodriver.Client, error) {
	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "connect mongo", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, errs.Wrap(errs.Internal, "ping mongo", err)
	}
	return client, nil
}

type driverCollection struct {
	coll *mongodriver.Collection
}

func newDriverCollection(client *mongodriver.Client, database, name string) collection {
	return driverCollection{coll: client.Database(database).Collection(name)}
}

func (c driverCollection) InsertOne(ctx context.Context, doc any) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c driverCollection) FindOne(ctx context.Context, filter bson.M) singleResult {
	return c.coll.FindOne(ctx, filter)
}

func (c driverCollection) Find(ctx context.Context, filter bson.M) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c driverCollection) UpdateOne(ctx context.Context, filter, update bson.M) (int64, error) {
	res, err := c.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (c driverCollection) EnsureIndexes(ctx context.Context) error {
	idx := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := c.coll.Indexes().CreateOne(ctx, idx)
	return err
}
