package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/werkzeug/internal/engine"
	"github.com/codefionn/werkzeug/internal/loader"
	"github.com/codefionn/werkzeug/internal/providers"
	"github.com/codefionn/werkzeug/internal/registry"
	"github.com/codefionn/werkzeug/internal/sandbox"
	"github.com/codefionn/werkzeug/internal/store"
)

const greeterModule = `
exports.tools = [{ name: "greet", description: "Say hello" }];
exports.callTool = function(name, args) { return "hello " + (args.who || "world"); };
`

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	mgr := sandbox.NewManager(engine.NewGojaBackend(), sandbox.Options{
		Skills:  st,
		LogSink: NewHubLogSink(hub),
	})
	t.Cleanup(mgr.DisposeAll)

	reg := registry.New()
	vis := registry.NewVisibilityTracker()
	for _, p := range []registry.Provider{
		providers.NewSkillsProvider(st),
		providers.NewToolManagerProvider(st, mgr, reg),
	} {
		require.NoError(t, reg.Register(p))
		reg.Protect(p.Name())
	}
	ld := loader.New(st, mgr, reg)

	return NewServer("localhost:0", reg, vis, mgr, st, ld, hub), st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func TestCreateSession_ReturnsCoreProviders(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"skills", "toolmanager"}, resp.Providers)
}

func TestSessionTools_FiltersByVisibility(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	session := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/providers", createProviderRequest{
		Name: "greeter", Code: greeterModule,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Not yet visible to the session.
	rec = doJSON(t, router, http.MethodGet, "/api/sessions/"+session+"/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "greeter__greet")
	assert.Contains(t, rec.Body.String(), "toolmanager__create_tool")

	rec = doJSON(t, router, http.MethodPost, "/api/sessions/"+session+"/visibility",
		visibilityRequest{Provider: "greeter", Visible: true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/sessions/"+session+"/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "greeter__greet")
}

func TestSessionTools_UnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	rec := doJSON(t, router, http.MethodGet, "/api/sessions/nope/tools", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSession(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	session := createSession(t, router)

	rec := doJSON(t, router, http.MethodDelete, "/api/sessions/"+session, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/sessions/"+session+"/tools", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCall_DispatchesRegisteredTool(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/providers", createProviderRequest{
		Name: "greeter", Code: greeterModule,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/call", callRequest{
		Name:      "greeter__greet",
		Arguments: map[string]interface{}{"who": "api"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result registry.CallResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.IsError)
	assert.Equal(t, "hello api", result.Content[0].Text)
}

func TestCall_UnknownToolIsErrorResultNot4xx(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/call", callRequest{Name: "ghost__tool"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result registry.CallResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.IsError)
}

func TestCall_MissingNameIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	rec := doJSON(t, router, http.MethodPost, "/api/call", callRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateProvider_BrokenCodeIsUnprocessable(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/providers", createProviderRequest{
		Name: "broken", Code: "function {",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec2, err := st.GetProvider(context.Background(), "broken")
	require.NoError(t, err)
	assert.Nil(t, rec2)
}

func TestDeleteProvider_DisablesAndUnloads(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/providers", createProviderRequest{
		Name: "greeter", Code: greeterModule,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/providers/greeter", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	prov, err := st.GetProvider(context.Background(), "greeter")
	require.NoError(t, err)
	require.NotNil(t, prov)
	assert.False(t, prov.Enabled)

	rec = doJSON(t, router, http.MethodGet, "/api/providers", nil)
	assert.Contains(t, rec.Body.String(), `"loaded":false`)
}

func TestSkillsEndpoints_RoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPut, "/api/skills/greeting", skillRequest{
		Description: "how to greet",
		Content:     "Be polite.",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/skills", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "greeting")

	rec = doJSON(t, router, http.MethodDelete, "/api/skills/greeting", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/skills", nil)
	assert.NotContains(t, rec.Body.String(), "greeting")
}

func TestLogStream_ReceivesGuestLogs(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/logs"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the hub a moment to register the subscriber.
	time.Sleep(100 * time.Millisecond)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/providers", createProviderRequest{
		Name: "noisy",
		Code: `
			exports.tools = [{ name: "talk", description: "Logs a line" }];
			exports.callTool = function() { bridge.log("hello from guest"); return "done"; };
		`,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv.Router(), http.MethodPost, "/api/call", callRequest{Name: "noisy__talk"})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event LogEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "noisy", event.Provider)
	assert.Equal(t, "hello from guest", event.Message)
}
