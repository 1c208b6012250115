package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeOpenAI serves a minimal OpenAI-compatible chat completions
// endpoint and records the last request.
type fakeOpenAI struct {
	content string
	status  int
	last    struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
}

func (f *fakeOpenAI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&f.last); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if f.status != 0 {
			http.Error(w, "upstream error", f.status)
			return
		}
		resp := map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": f.content},
					"finish_reason": "stop",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func newFake(t *testing.T, content string, status int) (*fakeOpenAI, *Client) {
	t.Helper()
	f := &fakeOpenAI{content: content, status: status}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return f, New(srv.URL, "test-key", "test-model")
}

func TestGenerate(t *testing.T) {
	f, c := newFake(t, "SCORE: 8/10\nFEEDBACK: Good.", 0)

	resp, err := c.Generate(context.Background(), GenerateRequest{Prompt: "grade this"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !resp.Success {
		t.Error("success = false for non-empty content")
	}
	if resp.Content != "SCORE: 8/10\nFEEDBACK: Good." {
		t.Errorf("content = %q", resp.Content)
	}
	if f.last.Model != "test-model" {
		t.Errorf("model = %q, want default", f.last.Model)
	}
	if len(f.last.Messages) != 1 || f.last.Messages[0].Role != "user" {
		t.Errorf("messages = %+v, want single user message", f.last.Messages)
	}
}

func TestGeneratePromptPrecedence(t *testing.T) {
	f, c := newFake(t, "ok", 0)

	_, err := c.Generate(context.Background(), GenerateRequest{
		Prompt:  "use me",
		Content: "not me",
		Model:   "override-model",
		Context: "You are a tutor.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.last.Model != "override-model" {
		t.Errorf("model = %q, want override", f.last.Model)
	}
	if len(f.last.Messages) != 2 {
		t.Fatalf("messages = %d, want system + user", len(f.last.Messages))
	}
	if f.last.Messages[0].Role != "system" || f.last.Messages[0].Content != "You are a tutor." {
		t.Errorf("system message = %+v", f.last.Messages[0])
	}
	if f.last.Messages[1].Content != "use me" {
		t.Errorf("user message = %q, want prompt over content", f.last.Messages[1].Content)
	}
}

func TestGenerateContentFallback(t *testing.T) {
	f, c := newFake(t, "ok", 0)
	if _, err := c.Generate(context.Background(), GenerateRequest{Content: "content only"}); err != nil {
		t.Fatal(err)
	}
	if f.last.Messages[0].Content != "content only" {
		t.Errorf("user message = %q", f.last.Messages[0].Content)
	}
}

func TestGenerateEmptyPrompt(t *testing.T) {
	_, c := newFake(t, "ok", 0)
	if _, err := c.Generate(context.Background(), GenerateRequest{Prompt: "   "}); err == nil {
		t.Error("blank prompt accepted")
	}
}

func TestGenerateTransportError(t *testing.T) {
	_, c := newFake(t, "", http.StatusInternalServerError)
	if _, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hi"}); err == nil {
		t.Error("API failure should return an error")
	}
}

func TestGenerateEmptyCompletion(t *testing.T) {
	_, c := newFake(t, "   ", 0)
	resp, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Error("blank completion reported as success")
	}
}
