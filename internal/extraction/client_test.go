package extraction

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biomarker-normalizer/internal/domain"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(baseURL string) domain.ExtractionConfig {
	return domain.ExtractionConfig{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "google/gemini-2.5-flash",
		Temperature: 0.1,
		MaxTokens:   8000,
		Timeout:     5 * time.Second,
		RateLimit:   100,
		RateBurst:   10,
		Referer:     "https://example.test",
		Title:       "Blood Test Analyzer",
	}
}

func TestClient_Extract(t *testing.T) {
	fileBytes := []byte("%PDF-1.4 fake report")

	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "https://example.test", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "Blood Test Analyzer", r.Header.Get("X-Title"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"biomarkers\":[]}"}}]}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), newTestLogger())

	content, err := client.Extract(context.Background(), domain.ExtractionRequest{
		FileBytes: fileBytes,
		MimeType:  "application/pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"biomarkers":[]}`, content)

	assert.Equal(t, "google/gemini-2.5-flash", captured["model"])
	assert.InDelta(t, 0.1, captured["temperature"], 1e-9)
	assert.EqualValues(t, 8000, captured["max_tokens"])

	messages, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)

	system := messages[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Equal(t, SystemPrompt, system["content"])

	user := messages[1].(map[string]any)
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, UserPrompt, parts[0].(map[string]any)["text"])

	image := parts[1].(map[string]any)["image_url"].(map[string]any)
	expectedURL := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(fileBytes)
	assert.Equal(t, expectedURL, image["url"])
}

func TestClient_ExtractErrors(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		body           string
		expectedDetail string
	}{
		{
			name:           "json error body",
			status:         http.StatusTooManyRequests,
			body:           `{"error":{"message":"Rate limit exceeded","code":429}}`,
			expectedDetail: "Rate limit exceeded",
		},
		{
			name:           "plain text body",
			status:         http.StatusBadGateway,
			body:           "upstream unavailable",
			expectedDetail: "upstream unavailable",
		},
		{
			name:           "json body without message",
			status:         http.StatusUnauthorized,
			body:           `{"error":{}}`,
			expectedDetail: `{"error":{}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(testConfig(server.URL), newTestLogger())
			_, err := client.Extract(context.Background(), domain.ExtractionRequest{FileBytes: []byte("x"), MimeType: "image/png"})
			require.Error(t, err)

			var extractionErr *ExtractionError
			require.True(t, errors.As(err, &extractionErr))
			assert.Equal(t, tt.status, extractionErr.StatusCode)
			assert.Equal(t, tt.expectedDetail, extractionErr.Detail)
		})
	}
}

func TestClient_ExtractMissingContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), newTestLogger())
	content, err := client.Extract(context.Background(), domain.ExtractionRequest{FileBytes: []byte("x"), MimeType: "image/png"})
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestClient_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Breaker = domain.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 2}
	client := NewClient(cfg, newTestLogger())

	req := domain.ExtractionRequest{FileBytes: []byte("x"), MimeType: "image/png"}
	for i := 0; i < 2; i++ {
		_, err := client.Extract(context.Background(), req)
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, client.BreakerState())

	_, err := client.Extract(context.Background(), req)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ExtractCancelled(t *testing.T) {
	client := NewClient(testConfig("http://127.0.0.1:1"), newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Extract(ctx, domain.ExtractionRequest{FileBytes: []byte("x"), MimeType: "image/png"})
	assert.Error(t, err)
}
