package classifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticCategories []string

func (s staticCategories) ListCategories(ctx context.Context) ([]string, error) {
	return s, nil
}

func completion(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func newTestGPT(t *testing.T, srv *httptest.Server, assistantID string) *GPTClassifier {
	t.Helper()
	return NewGPTClassifier(GPTConfig{
		APIKey:       "test",
		BaseURL:      srv.URL + "/v1",
		AssistantID:  assistantID,
		Model:        "gpt-4o-mini",
		MaxTokens:    300,
		MaxTags:      3,
		PollInterval: time.Millisecond,
	}, staticCategories{"finance", "recipes"}, zap.NewNop())
}

func TestSimpleClassifierText(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	c := NewSimpleClassifier(5)

	got, err := c.ClassifyText(context.Background(), "Pay the #Electricity bill before the meeting", "")
	req.NoError(err)
	req.Equal("finance", got.Category)
	req.Equal([]string{"electricity", "finance", "work"}, got.Tags)

	generic, err := c.ClassifyText(context.Background(), "hmm", "")
	req.NoError(err)
	req.Equal(FallbackCategory, generic.Category)
	req.Equal(FallbackSubcategory, generic.Subcategory)
}

func TestSimpleClassifierDocument(t *testing.T) {
	t.Parallel()

	got, err := NewSimpleClassifier(5).ClassifyDocument(context.Background(), nil, "application/pdf", "march_invoice.pdf")
	require.NoError(t, err)
	require.Equal(t, "finance", got.Category)
	require.Equal(t, "pdf", got.Subcategory)
}

func TestParseResponse(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	raw := "```json\n{\"category\":\" Finance \",\"subcategory\":\"Bills\",\"type\":\"receipt\",\"purpose\":\"record payment\"," +
		"\"tags\":[\"Power\",\" \",\"power\"],\"next_steps\":[\"file it\",\"file it\"]}\n```"
	got, err := ParseResponse(raw)
	req.NoError(err)
	req.Equal("finance", got.Category)
	req.Equal("bills", got.Subcategory)
	req.Equal("receipt", got.ContentType)
	req.Equal([]string{"power"}, got.Tags)
	req.Equal([]string{"file it"}, got.NextSteps)

	_, err = ParseResponse(`{"category":""}`)
	req.Error(err)
	_, err = ParseResponse("sorry, I cannot help")
	req.Error(err)
}

func TestGPTClassifierText(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Equal("/v1/chat/completions", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		writeJSON(w, completion(`{"category":"recipes","subcategory":"baking","type":"link","purpose":"try later","tags":["bread","sourdough","oven","extra"],"next_steps":["buy flour"]}`))
	}))
	defer srv.Close()

	got, err := newTestGPT(t, srv, "").ClassifyText(context.Background(), "https://bread.example", "Sourdough guide")
	req.NoError(err)
	req.Equal("recipes", got.Category)
	req.Equal("baking", got.Subcategory)
	req.Equal([]string{"bread", "sourdough", "oven"}, got.Tags)
	req.Equal([]string{"buy flour"}, got.NextSteps)

	req.Contains(body, "Existing categories: finance, recipes")
	req.Contains(body, "Sourdough guide")
}

func TestGPTClassifierTextFallsBack(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]any{"error": map[string]any{"message": "overloaded"}})
	}))
	defer srv.Close()

	got, err := newTestGPT(t, srv, "").ClassifyText(context.Background(), "hotel near the beach", "")
	require.NoError(t, err)
	require.Equal(t, "travel", got.Category)
}

func TestGPTClassifierImage(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		writeJSON(w, completion(`{"category":"pets","subcategory":"cats","type":"photo","purpose":"memory","tags":["cat"],"next_steps":[]}`))
	}))
	defer srv.Close()

	got, err := newTestGPT(t, srv, "").ClassifyImage(context.Background(), []byte{0xff, 0xd8, 0xff}, "image/jpeg")
	req.NoError(err)
	req.Equal("pets", got.Category)
	req.Contains(body, "data:image/jpeg;base64,/9j/")
	req.Contains(body, `"image_url"`)
}

func TestGPTClassifierImageReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]any{"error": map[string]any{"message": "down"}})
	}))
	defer srv.Close()

	_, err := newTestGPT(t, srv, "").ClassifyImage(context.Background(), []byte{1}, "image/png")
	require.Error(t, err)
}

func TestGPTClassifierDocumentUsesAssistant(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	var polls, deleted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/files":
			writeJSON(w, map[string]any{"id": "file-1", "object": "file", "purpose": "assistants"})
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/files/file-1":
			deleted.Add(1)
			writeJSON(w, map[string]any{"id": "file-1", "deleted": true})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/threads/runs":
			b, _ := io.ReadAll(r.Body)
			req.Contains(string(b), `"file_id":"file-1"`)
			req.Contains(string(b), `"assistant_id":"asst-1"`)
			writeJSON(w, map[string]any{"id": "run-1", "thread_id": "thread-1", "status": "queued"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/threads/thread-1/runs/run-1":
			status := "in_progress"
			if polls.Add(1) > 1 {
				status = "completed"
			}
			writeJSON(w, map[string]any{"id": "run-1", "thread_id": "thread-1", "status": status})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/threads/thread-1/messages":
			req.Equal("run-1", r.URL.Query().Get("run_id"))
			writeJSON(w, map[string]any{"object": "list", "data": []map[string]any{{
				"id":   "msg-1",
				"role": "assistant",
				"content": []map[string]any{{
					"type": "text",
					"text": map[string]any{"value": `{"category":"finance","subcategory":"invoices","type":"invoice","purpose":"pay","tags":["acme"],"next_steps":["pay by friday"]}`},
				}},
			}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	got, err := newTestGPT(t, srv, "asst-1").ClassifyDocument(context.Background(), []byte("%PDF-1.4"), "application/pdf", "acme.pdf")
	req.NoError(err)
	req.Equal("finance", got.Category)
	req.Equal("invoices", got.Subcategory)
	req.Equal([]string{"pay by friday"}, got.NextSteps)
	req.GreaterOrEqual(polls.Load(), int32(2))
	req.Equal(int32(1), deleted.Load())
}

func TestGPTClassifierDocumentFailedRun(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/files"):
			writeJSON(w, map[string]any{"id": "file-2"})
		case r.URL.Path == "/v1/threads/runs":
			writeJSON(w, map[string]any{"id": "run-2", "thread_id": "thread-2", "status": "failed",
				"last_error": map[string]any{"code": "server_error", "message": "no luck"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	_, err := newTestGPT(t, srv, "asst-1").ClassifyDocument(context.Background(), []byte("%PDF"), "application/pdf", "x.pdf")
	require.ErrorContains(t, err, "no luck")
}

func TestGPTClassifierDocumentWithoutAssistant(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))
	defer srv.Close()

	got, err := newTestGPT(t, srv, "").ClassifyDocument(context.Background(), nil, "application/pdf", "holiday_booking.pdf")
	require.NoError(t, err)
	require.Equal(t, "personal", got.Category)
}
