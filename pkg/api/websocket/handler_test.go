package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/flowdeploy/pkg/adapters/events/memory"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunStreamFiltersByPathspec(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := memory.NewInMemoryEventBus(zap.NewNop())
	h := NewHandler(bus, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Start(ctx))

	router := gin.New()
	router.GET("/ws", h.HandleRunStream)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?pathspec=MyFlow/argo-a"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.TopicRuns, domain.Event{ID: "skip", Type: domain.EventTypeRunTriggered, Pathspec: "MyFlow/argo-b"}))
	require.NoError(t, bus.Publish(ctx, domain.TopicRuns, domain.Event{ID: "keep", Type: domain.EventTypeRunTerminated, Pathspec: "MyFlow/argo-a"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event domain.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "keep", event.ID)
	assert.Equal(t, domain.EventTypeRunTerminated, event.Type)

	conn.Close()
	assert.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
