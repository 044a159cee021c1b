package aiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yarn-agent/internal/classifier"
	"yarn-agent/model"
)

func TestModelBackend_NormalizesLabels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/zero-shot", r.URL.Path)
		var req ZeroShotRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "intent", req.Task)
		assert.Equal(t, "yeah sure", req.Text)
		assert.Len(t, req.Candidates, len(IntentTask.Candidates))

		_ = json.NewEncoder(w).Encode(ZeroShotResponse{
			Labels: []string{"affirmative", "greeting", "made_up"},
			Scores: []float64{0.81, 0.1, 0.09},
		})
	}))
	defer srv.Close()

	b := NewModelBackend(NewClient(srv.URL, time.Second), IntentTask)
	pred, err := b.Infer(context.Background(), "yeah sure", classifier.Hint{})
	require.NoError(t, err)

	assert.Equal(t, model.LabelAffirmation, pred.Label)
	assert.InDelta(t, 0.81, pred.Confidence, 1e-9)
	assert.NotContains(t, pred.Scores, model.Label("made_up"))
}

func TestModelBackend_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model loading", http.StatusServiceUnavailable)
			},
			wantErr: ErrBadStatus,
		},
		{
			name: "mismatched scores",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"labels":["risk"],"scores":[]}`)
			},
			wantErr: ErrBadResponse,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `<html>`)
			},
			wantErr: ErrBadResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewModelBackend(NewClient(srv.URL, time.Second), RiskTask).
				Infer(context.Background(), "hi", classifier.Hint{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestModelBackend_RespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewModelBackend(NewClient(srv.URL, time.Second), SentimentTask).Infer(ctx, "hi", classifier.Hint{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// chatServer fakes the OpenAI chat completions endpoint.
func chatServer(t *testing.T, content string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
}

func llmBackend(url string, task Task) *LLMBackend {
	cfg := LLMConfig{Provider: "openai", BaseURL: url, APIKey: "test", Model: "gpt-4o-mini"}
	return NewLLMBackend(NewOpenAIClient(cfg), cfg, task, nil)
}

func TestLLMBackend_ParsesJSON(t *testing.T) {
	tests := []struct {
		name     string
		task     Task
		content  string
		want     model.Label
		wantConf float64
	}{
		{"intent alias", IntentTask, `{"intent": "negative"}`, model.LabelNegation, 0.7},
		{"with confidence", IntentTask, `{"intent": "worries", "confidence": 0.9}`, model.LabelWorries, 0.9},
		{"fenced", SentimentTask, "```json\n{\"sentiment\": \"Positive\"}\n```", model.LabelPositive, 0.7},
		{"risk", RiskTask, `{"label": "risk", "confidence": 0.95}`, model.LabelRisk, 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := chatServer(t, tt.content, &calls)
			defer srv.Close()

			pred, err := llmBackend(srv.URL, tt.task).Infer(context.Background(), "text", classifier.Hint{Step: model.StepWorries})
			require.NoError(t, err)
			assert.Equal(t, tt.want, pred.Label)
			assert.InDelta(t, tt.wantConf, pred.Confidence, 1e-9)
			assert.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestLLMBackend_InvalidAnswerIsAnError(t *testing.T) {
	for _, content := range []string{`{"intent": "pizza"}`, `not json`, `{"label": "risk"}`} {
		var calls atomic.Int32
		srv := chatServer(t, content, &calls)

		_, err := llmBackend(srv.URL, IntentTask).Infer(context.Background(), "text", classifier.Hint{})
		assert.ErrorIs(t, err, ErrInvalidLabel, content)
		srv.Close()
	}
}

func TestLLMBackend_NoKey(t *testing.T) {
	cfg := LLMConfig{Provider: "openai", Model: "gpt-4o-mini"}
	b := NewLLMBackend(NewOpenAIClient(cfg), cfg, IntentTask, nil)
	_, err := b.Infer(context.Background(), "hi", classifier.Hint{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestChatConversationalist(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, "  That sounds deadly.  ", &calls)
	defer srv.Close()

	cfg := LLMConfig{BaseURL: srv.URL, APIKey: "test"}
	c := NewChatConversationalist(NewOpenAIClient(cfg), "gpt-4o-mini", 0)

	s := model.NewSession("s1", time.Now())
	s.Responses[model.StepStrengths] = "footy"
	reply, err := c.Respond(context.Background(), s.Clone(), "I made the team")
	require.NoError(t, err)
	assert.Equal(t, "That sounds deadly.", reply)
	assert.Contains(t, summarize(*s), "- strengths: footy")
}
