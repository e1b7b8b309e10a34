package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"draftpilot/internal/adapter/store"
	"draftpilot/internal/adapter/stream"
	"draftpilot/internal/domain"
	"draftpilot/internal/infra/config"
	"draftpilot/internal/usecase/chatflow"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.Stream.CharDelay = 0
	cfg.Stream.StepDelay = 0
	cfg.Server.RateLimitPerMin = 100000
	cfg.Server.RateLimitBurst = 100000

	chatStore, err := store.NewSQLiteChatStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { chatStore.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(NewServer(ctx, cfg, chatStore, slog.Default()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestChatCRUD(t *testing.T) {
	srv := newTestServer(t)

	var created domain.ChatEntity
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chats", map[string]string{"title": "draft"}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "draft", created.Title)

	var fetched domain.ChatEntity
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/chats/"+created.ID, nil, &fetched)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, fetched.ID)

	var patched domain.ChatEntity
	resp = doJSON(t, http.MethodPatch, srv.URL+"/api/chats/"+created.ID, map[string]string{"title": "renamed"}, &patched)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "renamed", patched.Title)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/chats/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/chats/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUntitledChatPresentsFallback(t *testing.T) {
	srv := newTestServer(t)

	var created domain.ChatEntity
	doJSON(t, http.MethodPost, srv.URL+"/api/chats", nil, &created)
	assert.Equal(t, "New chat", created.Title)
}

func TestMessageSyncAndList(t *testing.T) {
	srv := newTestServer(t)

	messages := []domain.Message{
		{ID: "m1", Role: domain.RoleUser, Parts: []domain.Part{domain.NewTextPart("hello")}},
		{ID: "m2", Role: domain.RoleAssistant, Parts: []domain.Part{domain.NewTextPart("hi")}},
	}
	resp := doJSON(t, http.MethodPut, srv.URL+"/api/chats/c1/messages",
		map[string]any{"messages": messages}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var listed struct {
		Messages []domain.Message `json:"messages"`
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/chats/c1/messages", nil, &listed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, listed.Messages, 2)
	assert.Equal(t, "hello", listed.Messages[0].Text())

	status := domain.MessageAborted
	var updated domain.Message
	resp = doJSON(t, http.MethodPatch, srv.URL+"/api/chats/c1/messages/m2",
		map[string]any{"status": status}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.MessageAborted, updated.Status)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/chats/c1/messages/m1", nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/chats/c1/messages/m1", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthzAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestSecurityHeadersPresent(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

// readStreamEvents POSTs a turn request and decodes every frame until the
// terminal sentinel.
func readStreamEvents(t *testing.T, url string, body any) []domain.StreamEvent {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []domain.StreamEvent
	sc := stream.NewScanner(resp.Body)
	for {
		frame, err := sc.Next()
		require.NoError(t, err, "stream must end with the sentinel")
		if frame.Done() {
			return events
		}
		ev, ok := domain.ParseStreamEvent([]byte(frame.Data))
		require.True(t, ok, "frame %q", frame.Data)
		events = append(events, ev)
	}
}

func TestChatStreamScript(t *testing.T) {
	srv := newTestServer(t)

	events := readStreamEvents(t, srv.URL+"/api/chat/c1", map[string]any{
		"id": "c1",
		"messages": []domain.Message{
			{ID: "u1", Role: domain.RoleUser, Parts: []domain.Part{domain.NewTextPart("hi")}},
		},
		"model":   "demo",
		"trigger": domain.TriggerSubmit,
	})

	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventStart, events[0].Type)
	assert.Equal(t, "demo", events[0].ModelID)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventFinish, last.Type)
	assert.Equal(t, "stop", last.FinishReason)

	var text strings.Builder
	for _, ev := range events {
		if ev.Type == domain.EventTextDelta {
			text.WriteString(ev.Delta)
		}
	}
	assert.NotEmpty(t, text.String())
}

func TestAgentEditorSelectionStream(t *testing.T) {
	srv := newTestServer(t)

	payload, err := json.Marshal(map[string]any{
		"context": map[string]any{
			"mode":    "selection",
			"content": "the selected passage",
		},
		"userRequest": "make it shorter",
	})
	require.NoError(t, err)

	events := readStreamEvents(t, srv.URL+"/api/agent-editor/c1", map[string]any{
		"id": "c1",
		"messages": []domain.Message{
			{ID: "u1", Role: domain.RoleUser, Parts: []domain.Part{domain.NewTextPart(string(payload))}},
		},
		"model":   "demo",
		"trigger": domain.TriggerSubmit,
	})

	var toolName string
	var input json.RawMessage
	for _, ev := range events {
		if ev.Type == domain.EventToolInputAvailable {
			toolName = ev.ToolName
			input = ev.Input
		}
	}
	require.Equal(t, domain.ToolSuggestRewrite, toolName)

	decoded, ok := domain.DecodeSuggestionInput(input)
	require.True(t, ok)
	require.Len(t, decoded.Suggestions, 3)
	for _, s := range decoded.Suggestions {
		assert.Equal(t, domain.SuggestionIdle, s.Status)
		assert.NotEmpty(t, s.NewText)
	}
}

func TestAgentEditorFulltextStream(t *testing.T) {
	srv := newTestServer(t)

	payload, err := json.Marshal(map[string]any{
		"context": map[string]any{
			"mode":    "fulltext",
			"content": "第一句话。第二句话。第三句话。",
		},
		"userRequest": "润色全文",
	})
	require.NoError(t, err)

	events := readStreamEvents(t, srv.URL+"/api/agent-editor/c1", map[string]any{
		"id": "c1",
		"messages": []domain.Message{
			{ID: "u1", Role: domain.RoleUser, Parts: []domain.Part{domain.NewTextPart(string(payload))}},
		},
		"model":   "demo",
		"trigger": domain.TriggerSubmit,
	})

	var input json.RawMessage
	var toolName string
	for _, ev := range events {
		if ev.Type == domain.EventToolInputAvailable {
			toolName = ev.ToolName
			input = ev.Input
		}
	}
	require.Equal(t, domain.ToolSuggestEdit, toolName)

	decoded, ok := domain.DecodeSuggestionInput(input)
	require.True(t, ok)
	require.Len(t, decoded.Suggestions, 2)
	assert.Equal(t, "第一句话", decoded.Suggestions[0].OriginalText)
	assert.Equal(t, "第三句话", decoded.Suggestions[1].OriginalText)

	// Input deltas reassemble to the complete input payload.
	var assembled strings.Builder
	for _, ev := range events {
		if ev.Type == domain.EventToolInputDelta {
			assembled.WriteString(ev.InputTextDelta)
		}
	}
	assert.JSONEq(t, string(input), assembled.String())
}

// The scripted stream and the session controller speak the same protocol:
// a full turn against the live server assembles reasoning, tool call and
// text into one finalized assistant message.
func TestEndToEndControllerTurn(t *testing.T) {
	srv := newTestServer(t)

	state := chatflow.NewState(nil)
	ctrl := chatflow.NewController(state, chatflow.Options{
		API:    srv.URL + "/api/agent-editor/c1",
		ChatID: "c1",
		Model:  "demo",
		Logger: slog.Default(),
	})

	payload := fmt.Sprintf(`{"context":{"mode":"selection","content":%q},"userRequest":"improve"}`,
		"some selected text")
	require.NoError(t, ctrl.Send(context.Background(), payload))

	require.Equal(t, domain.StatusReady, state.Status())
	msgs := state.Messages()
	require.Len(t, msgs, 2)
	assistant := msgs[1]

	var haveReasoning, haveTool, haveText bool
	for _, p := range assistant.Parts {
		switch p.Type {
		case domain.PartReasoning:
			haveReasoning = true
			assert.Equal(t, domain.StateDone, p.State)
		case domain.PartToolCall:
			haveTool = true
			assert.Equal(t, domain.StateOutputAvailable, p.State)
			_, ok := domain.DecodeSuggestionInput(p.Input)
			assert.True(t, ok)
		case domain.PartText:
			haveText = true
			assert.NotEmpty(t, p.Text)
		}
	}
	assert.True(t, haveReasoning, "reasoning part missing")
	assert.True(t, haveTool, "tool-call part missing")
	assert.True(t, haveText, "text part missing")
}
