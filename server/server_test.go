package server_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mozilla-services/keyretrieval/auth"
	"github.com/mozilla-services/keyretrieval/keyservice"
	"github.com/mozilla-services/keyretrieval/server"
	"github.com/mozilla-services/keyretrieval/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	*httptest.Server
	registry *prometheus.Registry
}

func newTestServer(t *testing.T, store storage.Store) *testServer {
	hashes := make(map[string][]byte)
	for _, user := range []string{"user1", "user2"} {
		hash, err := bcrypt.GenerateFromPassword([]byte(user+"-pw"), bcrypt.MinCost)
		require.Nil(t, err)
		hashes[user] = hash
	}
	registry := prometheus.NewRegistry()
	srv := server.New(
		keyservice.New(store),
		server.WithAuthenticator(auth.NewHtpasswd("keys", hashes)),
		server.WithRegisterer(registry),
	)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, registry: registry}
}

type response struct {
	status int
	header http.Header
	body   string
}

func (ts *testServer) do(t *testing.T, method, path, as string, body io.Reader, header map[string]string) response {
	req, err := http.NewRequest(method, ts.URL+path, body)
	require.Nil(t, err)
	if as != "" {
		req.SetBasicAuth(as, as+"-pw")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := ts.Client().Do(req)
	require.Nil(t, err)
	defer func() {
		_ = res.Body.Close()
	}()
	b, err := io.ReadAll(res.Body)
	require.Nil(t, err)
	return response{status: res.StatusCode, header: res.Header, body: string(b)}
}

func TestGetPutDeleteCycle(t *testing.T) {
	ts := newTestServer(t, storage.NewInMemoryStore())
	text := map[string]string{"Content-Type": "text/plain"}

	res := ts.do(t, "GET", "/user1", "user1", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.status)

	res = ts.do(t, "PUT", "/user1", "user1", strings.NewReader("TEST"), text)
	assert.Equal(t, http.StatusNoContent, res.status)
	assert.Empty(t, res.body)

	res = ts.do(t, "GET", "/user1", "user1", nil, nil)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "TEST", res.body)
	assert.Equal(t, "text/plain", res.header.Get("Content-Type"))

	res = ts.do(t, "GET", "/user2", "user2", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.status)

	res = ts.do(t, "DELETE", "/user1", "user1", nil, nil)
	assert.Equal(t, http.StatusNoContent, res.status)

	res = ts.do(t, "GET", "/user1", "user1", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.status)

	res = ts.do(t, "DELETE", "/user1", "user1", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.status)

	n, err := testutil.GatherAndCount(ts.registry, "keyretrieval_requests_total")
	require.Nil(t, err)
	// retrieve/404, upload/204, retrieve/200, remove/204, remove/404
	assert.Equal(t, 5, n)
}

func TestContentTypeIsDiscarded(t *testing.T) {
	ts := newTestServer(t, storage.NewInMemoryStore())
	res := ts.do(t, "PUT", "/user1", "user1", strings.NewReader(`{"k":"v"}`), map[string]string{"Content-Type": "text/json"})
	require.Equal(t, http.StatusNoContent, res.status)
	res = ts.do(t, "GET", "/user1", "user1", nil, nil)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, `{"k":"v"}`, res.body)
	assert.Equal(t, "text/plain", res.header.Get("Content-Type"))
}

func TestUploadValidation(t *testing.T) {
	ts := newTestServer(t, storage.NewInMemoryStore())
	t.Run("wrong media type", func(t *testing.T) {
		res := ts.do(t, "PUT", "/user1", "user1", strings.NewReader("TEST"), map[string]string{"Content-Type": "image/jpeg"})
		assert.Equal(t, http.StatusUnsupportedMediaType, res.status)
	})
	t.Run("missing length", func(t *testing.T) {
		// A reader of unknown size makes the client send a chunked body.
		body := io.MultiReader(strings.NewReader("TEST"))
		res := ts.do(t, "PUT", "/user1", "user1", body, map[string]string{"Content-Type": "text/plain"})
		assert.Equal(t, http.StatusLengthRequired, res.status)
	})
	t.Run("too large", func(t *testing.T) {
		body := strings.NewReader(strings.Repeat("x", keyservice.MaxPayloadSize+1))
		res := ts.do(t, "PUT", "/user1", "user1", body, map[string]string{"Content-Type": "text/plain"})
		assert.Equal(t, http.StatusRequestEntityTooLarge, res.status)
	})
	t.Run("nothing was stored", func(t *testing.T) {
		res := ts.do(t, "GET", "/user1", "user1", nil, nil)
		assert.Equal(t, http.StatusNotFound, res.status)
	})
}

func TestAccessControl(t *testing.T) {
	ts := newTestServer(t, storage.NewInMemoryStore())
	text := map[string]string{"Content-Type": "text/plain"}
	require.Equal(t, http.StatusNoContent, ts.do(t, "PUT", "/user1", "user1", strings.NewReader("mine"), text).status)

	t.Run("other users are forbidden", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, ts.do(t, "GET", "/user1", "user2", nil, nil).status)
		assert.Equal(t, http.StatusForbidden, ts.do(t, "PUT", "/user1", "user2", strings.NewReader("theirs"), text).status)
		assert.Equal(t, http.StatusForbidden, ts.do(t, "DELETE", "/user1", "user2", nil, nil).status)
	})
	t.Run("anonymous users are challenged", func(t *testing.T) {
		res := ts.do(t, "GET", "/user1", "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, res.status)
		assert.Equal(t, `Basic realm="keys"`, res.header.Get("WWW-Authenticate"))
	})
	t.Run("bad passwords are challenged", func(t *testing.T) {
		req, err := http.NewRequest("GET", ts.URL+"/user1", nil)
		require.Nil(t, err)
		req.SetBasicAuth("user1", "wrong")
		res, err := ts.Client().Do(req)
		require.Nil(t, err)
		_ = res.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})
	t.Run("data is untouched", func(t *testing.T) {
		res := ts.do(t, "GET", "/user1", "user1", nil, nil)
		assert.Equal(t, http.StatusOK, res.status)
		assert.Equal(t, "mine", res.body)
	})
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, storage.NewInMemoryStore())
	res := ts.do(t, "POST", "/user1", "user1", strings.NewReader("TEST"), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, res.status)
	assert.Equal(t, "GET, PUT, DELETE", res.header.Get("Allow"))
}

type unhealthyStore struct {
	*storage.InMemoryStore
}

func (*unhealthyStore) Ping(context.Context) error {
	return errors.New("database is down")
}

func (*unhealthyStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("database is down")
}

func TestBackendFailures(t *testing.T) {
	ts := newTestServer(t, &unhealthyStore{storage.NewInMemoryStore()})
	res := ts.do(t, "GET", "/user1", "user1", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, res.status)
	assert.NotContains(t, res.body, "database is down")
	res = ts.do(t, "GET", "/__heartbeat__", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.status)
}

func TestHeartbeat(t *testing.T) {
	ts := newTestServer(t, storage.NewInMemoryStore())
	res := ts.do(t, "GET", "/__heartbeat__", "", nil, nil)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "OK", res.body)

	t.Run("no user can take its name", func(t *testing.T) {
		for _, method := range []string{"PUT", "DELETE"} {
			res := ts.do(t, method, "/__heartbeat__", "", strings.NewReader("TEST"), nil)
			assert.Equal(t, http.StatusBadRequest, res.status, method)
		}
		res := ts.do(t, "GET", "/__heartbeat__", "", nil, nil)
		assert.Equal(t, "OK", res.body)
	})
}
