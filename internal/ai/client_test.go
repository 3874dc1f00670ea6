package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"personachat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uintPtr(v uint) *uint { return &v }

var sherlock = models.Persona{ID: 3, Name: "Sherlock Holmes", Description: "Consulting detective", SamplePrompt: "You see, but you do not observe."}

func contextWindow() []models.Message {
	return []models.Message{
		{ID: 10, UserID: uintPtr(1), User: &models.User{ID: 1, Username: "alice"}, Content: "hello"},
		{ID: 9, PersonaID: uintPtr(3), Content: "Good evening."},
		{ID: 8, UserID: uintPtr(2), User: &models.User{ID: 2, Username: "bob"}, Content: "is anyone here?"},
	}
}

func TestTranscript_OrdersOldestFirstAndEndsWithTrigger(t *testing.T) {
	turns := Transcript(sherlock, contextWindow())

	require.Len(t, turns, 4)
	assert.Equal(t, "system", turns[0].Role)
	assert.Contains(t, turns[0].Content, "Sherlock Holmes")
	assert.Contains(t, turns[0].Content, "Consulting detective")

	assert.Equal(t, Turn{Role: "user", Content: "bob: is anyone here?"}, turns[1])
	assert.Equal(t, Turn{Role: "assistant", Content: "Good evening."}, turns[2])
	assert.Equal(t, Turn{Role: "user", Content: "alice: hello"}, turns[3])
}

func TestClient_GenerateReply(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Elementary, my dear Watson.  "}}]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{URL: srv.URL, APIKey: "test-key", Model: "test-model"})
	reply, err := c.GenerateReply(context.Background(), sherlock, contextWindow())
	require.NoError(t, err)
	assert.Equal(t, "Elementary, my dear Watson.", reply)
	assert.Equal(t, "test-model", got.Model)
	assert.Len(t, got.Messages, 4)
}

func TestClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		delay   time.Duration
		timeout time.Duration
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`},
		{name: "malformed json", status: http.StatusOK, body: `not json`},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`},
		{name: "empty content", status: http.StatusOK, body: `{"choices":[{"message":{"content":"   "}}]}`},
		{name: "timeout", status: http.StatusOK, body: `{"choices":[{"message":{"content":"late"}}]}`, delay: 200 * time.Millisecond, timeout: 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.delay > 0 {
					select {
					case <-time.After(tt.delay):
					case <-r.Context().Done():
						return
					}
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}

			_, err := NewClient(ClientConfig{URL: srv.URL}).GenerateReply(ctx, sherlock, contextWindow())
			assert.ErrorIs(t, err, ErrGeneration)
		})
	}
}

func TestClient_EmptyContext(t *testing.T) {
	_, err := NewClient(ClientConfig{URL: "http://unused"}).GenerateReply(context.Background(), sherlock, nil)
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestStatic(t *testing.T) {
	reply, err := Static{Reply: "fixed"}.GenerateReply(context.Background(), sherlock, nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed", reply)

	reply, err = Static{}.GenerateReply(context.Background(), sherlock, nil)
	require.NoError(t, err)
	assert.Equal(t, sherlock.SamplePrompt, reply)

	_, err = Static{}.GenerateReply(context.Background(), models.Persona{Name: "Blank"}, nil)
	assert.ErrorIs(t, err, ErrGeneration)
}
