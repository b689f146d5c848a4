package stream_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fieldserv/onboarding/pkg/log"
	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/services"
	"github.com/fieldserv/onboarding/pkg/stream"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*services.Processes, *httptest.Server) {
	t.Helper()

	processes := services.NewProcesses(services.Options{Logger: log.Discard()})

	_, err := processes.Create(t.Context(), services.CreateProcessRequest{
		ID:   "p1",
		Name: "Jane Doe",
		Steps: []models.StepDefinition{
			{ID: "A", Name: "Contract"},
			{ID: "B", Name: "Training", DependsOn: []string{"A"}},
		},
	})
	require.NoError(t, err)

	server := httptest.NewServer(stream.NewHandler(processes, log.Discard()).Mux())
	t.Cleanup(server.Close)

	return processes, server
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + path

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func read(t *testing.T, conn *websocket.Conn) stream.Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg stream.Message
	require.NoError(t, conn.ReadJSON(&msg))

	return msg
}

func TestHandler_StreamsSnapshots(t *testing.T) {
	t.Parallel()

	processes, server := setup(t)
	conn := dial(t, server, "/processes/p1/stream")

	first := read(t, conn)
	require.Equal(t, "snapshot", first.Type)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, int64(1), first.Snapshot.Version)
	assert.Equal(t, models.ProcessStatusNotStarted, first.Snapshot.Status)

	_, err := processes.RequestTransition(t.Context(), "p1", "A", models.ActionStart)
	require.NoError(t, err)
	_, err = processes.RequestTransition(t.Context(), "p1", "A", models.ActionComplete)
	require.NoError(t, err)

	second := read(t, conn)
	assert.Equal(t, int64(2), second.Snapshot.Version)
	assert.Equal(t, models.ProcessStatusInProgress, second.Snapshot.Status)

	third := read(t, conn)
	assert.Equal(t, int64(3), third.Snapshot.Version)

	b, ok := third.Snapshot.Step("B")
	require.True(t, ok)
	assert.Equal(t, models.StepStatePending, b.State)
}

func TestHandler_UnknownProcess(t *testing.T) {
	t.Parallel()

	_, server := setup(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/processes/missing/stream"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestHandler_ClientDisconnectUnsubscribes(t *testing.T) {
	t.Parallel()

	processes, server := setup(t)
	conn := dial(t, server, "/processes/p1/stream")
	read(t, conn)

	require.NoError(t, conn.Close())

	// Changes keep being accepted after the client is gone.
	assert.Eventually(t, func() bool {
		_, err := processes.RequestTransition(t.Context(), "p1", "A", models.ActionStart)

		return err == nil
	}, time.Second, 10*time.Millisecond)

	_, err := processes.RequestTransition(t.Context(), "p1", "A", models.ActionComplete)
	assert.NoError(t, err)
}
