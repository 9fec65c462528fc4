package replay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endalk200/better-webhook/internal/httputil"
)

func TestDispatcherSendsRequestAsBuilt(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	var gotTrace []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.RequestURI()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotTrace = r.Header.Values("X-Trace")
		w.Header().Set("X-Server", "echo")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("accepted"))
	}))
	defer ts.Close()

	d := NewDispatcher()
	resp, err := d.Do(context.Background(), Request{
		Method: http.MethodPut,
		URL:    ts.URL + "/hooks/in?try=2",
		Headers: []httputil.Header{
			{Key: "X-Trace", Value: "a"},
			{Key: "X-Trace", Value: "b"},
		},
		Body: []byte(`{"n":1}`),
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/hooks/in?try=2", gotPath)
	assert.Equal(t, `{"n":1}`, gotBody)
	assert.Equal(t, []string{"a", "b"}, gotTrace)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []byte("accepted"), resp.Body)
	assert.False(t, resp.Truncated)
	assert.Greater(t, resp.Duration, time.Duration(0))

	var serverHeader string
	for _, h := range resp.Headers {
		if h.Key == "X-Server" {
			serverHeader = h.Value
		}
	}
	assert.Equal(t, "echo", serverHeader)
}

func TestDispatcherErrorStatusIsNotAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer ts.Close()

	resp, err := NewDispatcher().Do(context.Background(), Request{Method: http.MethodPost, URL: ts.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestDispatcherTruncatesLargeResponses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("z", 100))
	}))
	defer ts.Close()

	d := NewDispatcher()
	d.MaxResponseBytes = 64
	resp, err := d.Do(context.Background(), Request{Method: http.MethodGet, URL: ts.URL})
	require.NoError(t, err)

	assert.True(t, resp.Truncated)
	assert.Len(t, resp.Body, 64)
}

func TestDispatcherTimesOut(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer ts.Close()

	_, err := NewDispatcher().Do(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     ts.URL,
		Timeout: 50 * time.Millisecond,
	})
	assert.Error(t, err)
}

func TestDispatcherTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	_, err := NewDispatcher().Do(context.Background(), Request{Method: http.MethodPost, URL: ts.URL})
	assert.Error(t, err)
}
