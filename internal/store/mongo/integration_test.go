package mongo_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/model"
	storemongo "github.com/loomrun/agentcore/internal/store/mongo"
)

// startMongoContainer spins up a real mongo:7 server the way the teacher's
// registry/store/mongo/mongo_test.go does, and skips the test instead of
// failing when Docker is unavailable (CI without a Docker socket, sandboxed
// dev machines).
func startMongoContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	var (
		container testcontainers.Container
		err       error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if err != nil {
		t.Skipf("docker not available, skipping mongo integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)
	return fmt.Sprintf("mongodb://%s:%s", host, port.Port())
}

// TestRunStoreAgainstRealMongo exercises internal/store/mongo.RunStore
// against a real server, the driver-wiring gap a fake collection can't
// catch (index creation, bson encoding, ErrNoDocuments mapping).
func TestRunStoreAgainstRealMongo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}

	uri := startMongoContainer(t)
	ctx := context.Background()

	client, err := storemongo.Connect(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	s, err := storemongo.NewRunStore(ctx, client, "agentcore_test")
	require.NoError(t, err)

	run := &model.AgentRun{
		RunID:     ids.New(),
		ThreadID:  ids.New(),
		ProjectID: ids.New(),
		Status:    model.RunRunning,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	require.Equal(t, run.RunID, got.RunID)
	require.Equal(t, model.RunRunning, got.Status)

	endedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateStatus(ctx, run.RunID, model.RunCompleted, "", &endedAt))

	got, err = s.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, got.Status)

	byStatus, err := s.ListByStatus(ctx, model.RunCompleted)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
}
