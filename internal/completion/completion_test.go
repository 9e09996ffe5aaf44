package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/chatmemory/internal/memory"
	"github.com/ent0n29/chatmemory/internal/window"
)

func TestNewSelectsMode(t *testing.T) {
	c, err := New(Config{Mode: "auto"})
	require.NoError(t, err)
	assert.IsType(t, &Mock{}, c)

	c, err = New(Config{Mode: "", APIKey: "sk"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	_, err = New(Config{Mode: "openai"})
	assert.Error(t, err)

	_, err = New(Config{Mode: "psychic"})
	assert.Error(t, err)

	_, err = New(Config{Mode: "openai", APIKey: "sk", ProxyURL: "::bad"})
	assert.Error(t, err)
}

func TestOpenAIClientSendsOrderedMessages(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","model":"gpt-3.5-turbo",
			"choices":[{"index":0,"message":{"role":"assistant","content":"fine, thanks"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "gpt-3.5-turbo"})
	require.NoError(t, err)

	reply, err := c.Complete(context.Background(), []window.Message{
		{Role: memory.RoleUser, Content: "hi"},
		{Role: memory.RoleAssistant, Content: "hello"},
		{Role: memory.RoleUser, Content: "how are you"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fine, thanks", reply)
	assert.Equal(t, "gpt-3.5-turbo", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "how are you", got.Messages[2].Content)
	assert.Equal(t, "assistant", got.Messages[1].Role)
}

func TestOpenAIClientWrapsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "sk", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), []window.Message{{Role: memory.RoleUser, Content: "hi"}})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Equal(t, "server_error", Classify(err))
	assert.True(t, Retryable(err))
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "sk", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), []window.Message{{Role: memory.RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "ok", Classify(nil))
	assert.Equal(t, "timeout", Classify(unavailable(context.DeadlineExceeded)))
	assert.Equal(t, "canceled", Classify(context.Canceled))
	assert.Equal(t, "transport", Classify(errors.New("dial tcp: refused")))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(unavailable(context.Canceled)))
	assert.True(t, Retryable(unavailable(context.DeadlineExceeded)))
	assert.True(t, Retryable(unavailable(errors.New("connection reset"))))
}

func TestMockReplies(t *testing.T) {
	m := NewMock()
	reply, err := m.Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "I am listening.", reply)

	reply, err = m.Complete(context.Background(), []window.Message{{Role: memory.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "I heard you: hi", reply)

	reply, err = m.Complete(context.Background(), []window.Message{
		{Role: memory.RoleUser, Content: "hi"},
		{Role: memory.RoleAssistant, Content: "I heard you: hi"},
		{Role: memory.RoleUser, Content: "again"},
	})
	require.NoError(t, err)
	assert.Equal(t, "I heard you: again\nI remember 2 of your messages.", reply)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Complete(ctx, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

type latencyLog struct {
	results []string
}

func (l *latencyLog) ObserveCompletion(result string, _ time.Duration) {
	l.results = append(l.results, result)
}

type failing struct{}

func (failing) Complete(context.Context, []window.Message) (string, error) {
	return "", unavailable(errors.New("no route"))
}

func TestInstrumentRecordsOutcome(t *testing.T) {
	rec := &latencyLog{}
	_, err := Instrument(NewMock(), rec).Complete(context.Background(), nil)
	require.NoError(t, err)
	_, err = Instrument(failing{}, rec).Complete(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, []string{"ok", "transport"}, rec.results)

	assert.IsType(t, &Mock{}, Instrument(NewMock(), nil))
}
