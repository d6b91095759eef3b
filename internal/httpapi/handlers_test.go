package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"llamachat/internal/ai"
	"llamachat/internal/chat"
)

// fakeEndpoint emulates the generation service's HTTP surface.
func fakeEndpoint(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{{"name": "llama3", "size": 1, "modified_at": "x", "digest": "d"}},
		})
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "models": []string{"llama3"}})
	})
	mux.HandleFunc("/api/generate/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"response\":\"Hi \"}\n"))
		w.Write([]byte("data: {\"response\":\"there\"}\n"))
		w.Write([]byte("data: {\"done\":true,\"model\":\"llama3\"}\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T) (*gin.Engine, *chat.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, chat.Migrate(db))

	wire := ai.NewClient(fakeEndpoint(t).URL+"/api", nil)
	svc := chat.NewService(chat.NewRepo(db), wire, nil)
	return NewRouter(svc, wire, nil), svc
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestChatLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)

	w, env := doJSON(t, r, http.MethodPost, "/api/chats", `{"title":"T","model":"llama3"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var created struct {
		Chat chat.Chat `json:"chat"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.NotEmpty(t, created.Chat.ID)
	assert.True(t, created.Chat.SendFullHistory)

	w, env = doJSON(t, r, http.MethodGet, "/api/chats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Chats []chat.Chat `json:"chats"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed.Chats, 1)

	w, _ = doJSON(t, r, http.MethodPatch, "/api/chats/"+created.Chat.ID+"/title", `{"title":"renamed"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodDelete, "/api/chats/"+created.Chat.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/api/chats/"+created.Chat.ID, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetChat_NotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	w, env := doJSON(t, r, http.MethodGet, "/api/chats/nope", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40004, env.Code)
}

func TestListModels(t *testing.T) {
	r, _ := newTestRouter(t)
	w, env := doJSON(t, r, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Models []ai.Model `json:"models"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Models, 1)
	assert.Equal(t, "llama3", data.Models[0].Name)
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	w, env := doJSON(t, r, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	var h ai.Health
	require.NoError(t, json.Unmarshal(env.Data, &h))
	assert.Equal(t, "ok", h.Status)
}

func TestSendTurn_StreamsAndPersists(t *testing.T) {
	r, svc := newTestRouter(t)

	_, env := doJSON(t, r, http.MethodPost, "/api/chats", `{"title":"T","model":"llama3"}`)
	var created struct {
		Chat chat.Chat `json:"chat"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))

	req := httptest.NewRequest(http.MethodPost, "/api/chats/"+created.Chat.ID+"/turns", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "event: chunk")
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, "Hi there")

	snap := svc.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "hi", snap.Messages[0].Content)
	assert.Equal(t, "Hi there", snap.Messages[1].Content)
}

func TestSendTurn_UnknownChat(t *testing.T) {
	r, _ := newTestRouter(t)
	w, _ := doJSON(t, r, http.MethodPost, "/api/chats/nope/turns", `{"message":"hi"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}
