package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fieldserv/onboarding/pkg/log"
	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/persistence/file"
	"github.com/fieldserv/onboarding/pkg/services"
	"github.com/fieldserv/onboarding/pkg/templates"
	"github.com/gofiber/fiber/v3"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestAPI(t *testing.T) *API {
	t.Helper()

	catalog, err := templates.Load("../../examples/templates")
	require.NoError(t, err)

	processes := services.NewProcesses(services.Options{
		Persistence: file.NewPersistence(t.TempDir()),
		Templates:   catalog,
		Logger:      log.Discard(),
	})

	return NewAPI(log.Discard(), processes, catalog, nil)
}

func do(t *testing.T, app *fiber.App, method, target, body string) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestAPI(t).App()

	status, body := do(t, app, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Onboarding API", string(body))
}

func TestAPI_Liveness(t *testing.T) {
	app := setupTestAPI(t).App()

	status, body := do(t, app, http.MethodGet, "/livez", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", string(body))
}

func TestAPI_TemplateProcessFlow(t *testing.T) {
	app := setupTestAPI(t).App()

	status, body := do(t, app, http.MethodGet, "/templates", "")
	require.Equal(t, http.StatusOK, status)

	var listed struct {
		Templates []models.Template `json:"templates"`
	}

	require.NoError(t, json.Unmarshal(body, &listed))
	require.NotEmpty(t, listed.Templates)

	template := listed.Templates[0]

	status, body = do(t, app, http.MethodPost, "/processes",
		`{"id":"tech-1","template_id":"`+template.ID+`"}`)
	require.Equal(t, http.StatusCreated, status, string(body))

	var snapshot models.Snapshot
	require.NoError(t, json.Unmarshal(body, &snapshot))
	assert.Equal(t, "tech-1", snapshot.ProcessID)
	assert.Equal(t, models.ProcessStatusNotStarted, snapshot.Status)
	assert.Len(t, snapshot.Steps, len(template.Steps))

	// The first step of a template never has dependencies.
	first := template.Steps[0].ID

	status, body = do(t, app, http.MethodPost, "/processes/tech-1/steps/"+first+"/transitions", `{"action":"start"}`)
	require.Equal(t, http.StatusOK, status, string(body))

	require.NoError(t, json.Unmarshal(body, &snapshot))
	assert.Equal(t, models.ProcessStatusInProgress, snapshot.Status)
	assert.Equal(t, int64(2), snapshot.Version)

	status, _ = do(t, app, http.MethodGet, "/processes/tech-1", "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, app, http.MethodGet, "/processes/unknown", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_StreamServer(t *testing.T) {
	api := setupTestAPI(t)

	_, err := api.processes.Create(t.Context(), services.CreateProcessRequest{
		ID:    "p1",
		Name:  "Stream",
		Steps: []models.StepDefinition{{ID: "A", Name: "A"}},
	})
	require.NoError(t, err)

	server := httptest.NewServer(api.StreamServer(0).Handler)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/processes/p1/stream"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
		_ = conn.Close()
	}()

	var msg struct {
		Type     string          `json:"type"`
		Snapshot models.Snapshot `json:"snapshot"`
	}

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "p1", msg.Snapshot.ProcessID)
	assert.Equal(t, int64(1), msg.Snapshot.Version)
}
