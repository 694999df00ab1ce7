package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestClient connects to REDIS_ADDR and skips when no server is reachable
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDeploymentLifecycle(t *testing.T) {
	client := newTestClient(t)
	store := NewDeploymentStore(client, time.Minute, zap.NewNop())
	ctx := context.Background()
	name := "test-" + uuid.NewString()
	t.Cleanup(func() { store.DeleteDeployment(ctx, name) })

	missing, err := store.GetDeployment(ctx, name)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.SaveDeployment(ctx, &domain.DeploymentRecord{
		Name:     name,
		FlowName: "MyFlow",
		Backend:  "argo-workflows",
	}))
	got, err := store.GetDeployment(ctx, name)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "MyFlow", got.FlowName)

	ttl, err := client.TTL(ctx, deploymentKey(name)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	list, err := store.ListDeployments(ctx)
	require.NoError(t, err)
	var names []string
	for _, r := range list {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, name)

	for _, p := range []string{"MyFlow/argo-a", "MyFlow/argo-b"} {
		require.NoError(t, store.SaveRun(ctx, &domain.RunRecord{Pathspec: p, Deployment: name}))
	}
	runs, err := store.ListRuns(ctx, name)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "MyFlow/argo-a", runs[0].Pathspec)

	require.NoError(t, store.DeleteDeployment(ctx, name))
	got, err = store.GetDeployment(ctx, name)
	require.NoError(t, err)
	assert.Nil(t, got)
	runs, err = store.ListRuns(ctx, name)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSaveValidates(t *testing.T) {
	store := NewDeploymentStore(nil, 0, zap.NewNop())
	assert.Error(t, store.SaveDeployment(context.Background(), &domain.DeploymentRecord{}))
	assert.Error(t, store.SaveRun(context.Background(), &domain.RunRecord{}))
}
