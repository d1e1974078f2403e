package judge0

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend 模拟执行后端：前 pendingPolls 次轮询返回"运行中"。
func fakeBackend(t *testing.T, pendingPolls int32, final string) (*httptest.Server, *int32) {
	t.Helper()
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/submissions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-RapidAPI-Key"))
		assert.Equal(t, "judge0.test", r.Header.Get("X-RapidAPI-Host"))
		var sub Submission
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
		assert.Equal(t, 63, sub.LanguageID)
		_, _ = w.Write([]byte(`{"token":"tok-1"}`))
	})
	mux.HandleFunc("/submissions/tok-1", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		if n <= pendingPolls {
			_, _ = w.Write([]byte(`{"stdout":null,"status":{"id":2,"description":"Processing"}}`))
			return
		}
		_, _ = w.Write([]byte(final))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:      baseURL,
		APIKey:       "secret",
		APIHost:      "judge0.test",
		PollInterval: time.Millisecond,
		MaxAttempts:  10,
	})
}

func TestClient_ExecuteHelloWorld(t *testing.T) {
	srv, polls := fakeBackend(t, 2, `{"stdout":"Hello, World!\n","stderr":null,"status":{"id":3,"description":"Accepted"}}`)
	c := newTestClient(srv.URL)

	res, err := c.Execute(context.Background(), Submission{SourceCode: `console.log("Hello, World!")`, LanguageID: 63})
	require.NoError(t, err)
	assert.True(t, res.Terminal())
	assert.Equal(t, "Hello, World!\n", res.StdoutText())
	assert.Equal(t, "Accepted", res.StatusDescription())
	assert.Equal(t, int32(3), atomic.LoadInt32(polls))
}

func TestClient_ExecuteSoftTimeoutReturnsLastResult(t *testing.T) {
	srv, polls := fakeBackend(t, 1000, `{}`)
	c := newTestClient(srv.URL)

	res, err := c.Execute(context.Background(), Submission{SourceCode: "while(true){}", LanguageID: 63})
	require.NoError(t, err, "budget exhaustion is not an error")
	require.NotNil(t, res)
	assert.False(t, res.Terminal())
	assert.Equal(t, "Processing", res.StatusDescription())
	assert.Equal(t, int32(10), atomic.LoadInt32(polls))
}

func TestClient_SubmitNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	_, err := c.Execute(context.Background(), Submission{SourceCode: "x", LanguageID: 63})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendStatus)
}

func TestClient_SubmitWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Submit(context.Background(), Submission{SourceCode: "x", LanguageID: 63})
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestClient_ExecuteHonoursContext(t *testing.T) {
	srv, _ := fakeBackend(t, 1000, `{}`)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "secret", APIHost: "judge0.test", PollInterval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Execute(ctx, Submission{SourceCode: "x", LanguageID: 63})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
