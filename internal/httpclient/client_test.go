package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/dserrors"
	"github.com/blankors/dspider/internal/interfaces"
)

func testClient(t *testing.T, maxRetries int) *Client {
	t.Helper()
	return NewClient(common.FetcherConfig{
		Timeout:        common.Duration(5 * time.Second),
		MaxRetries:     maxRetries,
		RetryDelayBase: common.Duration(time.Millisecond),
	}, arbor.NewLogger())
}

func TestClient_SuccessFirstAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		cookie, err := r.Cookie("session")
		require.NoError(t, err)
		assert.Equal(t, "abc", cookie.Value)
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	result, err := testClient(t, 3).Do(context.Background(), interfaces.FetchRequest{
		Method:  http.MethodGet,
		URL:     server.URL,
		Headers: map[string]string{"User-Agent": "test-agent"},
		Cookies: map[string]string{"session": "abc"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, []byte("hello"), result.Body)
	assert.Equal(t, 1, result.Attempts)
}

func TestClient_RetriesStatusMismatch(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	result, err := testClient(t, 3).Do(context.Background(), interfaces.FetchRequest{
		Method: http.MethodGet,
		URL:    server.URL,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ExhaustedRetriesReturnStatusMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := testClient(t, 2).Do(context.Background(), interfaces.FetchRequest{
		Method: http.MethodGet,
		URL:    server.URL,
	})
	require.Error(t, err)
	assert.Equal(t, dserrors.KindStatusMismatch, dserrors.KindOf(err))
}

func TestClient_ExpectedStatusOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	result, err := testClient(t, 1).Do(context.Background(), interfaces.FetchRequest{
		Method:         http.MethodPost,
		URL:            server.URL,
		ExpectedStatus: http.StatusCreated,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, result.Status)
}

func TestClient_TransportErrorClassified(t *testing.T) {
	// A closed server port yields a connection error, not a status.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := testClient(t, 1).Do(context.Background(), interfaces.FetchRequest{
		Method: http.MethodGet,
		URL:    addr,
	})
	require.Error(t, err)
	assert.Equal(t, dserrors.KindHTTPTransport, dserrors.KindOf(err))
}

func TestClient_PostSendsFormBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "2", r.PostForm.Get("pageIndex"))
		assert.Equal(t, "10", r.PostForm.Get("pageSize"))
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	_, err := testClient(t, 1).Do(context.Background(), interfaces.FetchRequest{
		Method: http.MethodPost,
		URL:    server.URL,
		Body:   EncodeForm(map[string]string{"pageIndex": "2", "pageSize": "10"}),
	})
	require.NoError(t, err)
}

func TestEncodeForm(t *testing.T) {
	assert.Nil(t, EncodeForm(nil))
	assert.Nil(t, EncodeForm(map[string]string{}))

	values, err := url.ParseQuery(string(EncodeForm(map[string]string{"a": "1", "b": "two words"})))
	require.NoError(t, err)
	assert.Equal(t, "1", values.Get("a"))
	assert.Equal(t, "two words", values.Get("b"))
}

func TestProxyAcquirer_NoEndpointConfigured(t *testing.T) {
	client := testClient(t, 1)

	_, err := client.Do(context.Background(), interfaces.FetchRequest{
		Method:    http.MethodGet,
		URL:       "https://x/api",
		NeedProxy: true,
	})
	require.Error(t, err)
	assert.Equal(t, dserrors.KindProxyAcquire, dserrors.KindOf(err))
}

func TestProxyAcquirer_ParsesObjectAndArrayForms(t *testing.T) {
	proxyAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip":"10.0.0.1:8080"}`))
	}))
	defer proxyAPI.Close()

	acquirer := newProxyAcquirer(common.FetcherConfig{FreeProxyAPI: proxyAPI.URL}, arbor.NewLogger())
	proxyURL, err := acquirer.acquire(context.Background(), interfaces.ProxyPoolFree)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:8080", proxyURL.String())

	arrayAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["10.0.0.2:8080","10.0.0.3:8080"]`))
	}))
	defer arrayAPI.Close()

	acquirer = newProxyAcquirer(common.FetcherConfig{FreeProxyAPI: arrayAPI.URL}, arbor.NewLogger())
	proxyURL, err = acquirer.acquire(context.Background(), interfaces.ProxyPoolFree)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:8080", proxyURL.String())
}
