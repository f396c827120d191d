package instance

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fedsearch/fedsearch-go/internal/oauth"
	"github.com/fedsearch/fedsearch-go/internal/storage"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestStore(t *testing.T) *storage.BoltDB {
	t.Helper()
	db, err := storage.NewBoltDB(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestService(t *testing.T) (*Service, *recordingMetrics) {
	t.Helper()
	metrics := &recordingMetrics{}
	svc := NewService(newTestStore(t), oauth.NewTokenClient(nil, zap.NewNop()), ServiceConfig{
		Now:          func() time.Time { return testNow },
		FetchTimeout: 5 * time.Second,
		Metrics:      metrics,
	}, zap.NewNop())
	return svc, metrics
}

// fakeRemote is a remote instance: it serves the token endpoint and echoes
// the Authorization header of any other GET.
type fakeRemote struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	body     string
	requests []url.Values
	auths    []string
}

func newFakeRemote(t *testing.T, status int, body string) *fakeRemote {
	t.Helper()
	r := &fakeRemote{status: status, body: body}
	mux := http.NewServeMux()
	mux.HandleFunc(oauth.TokenPath, func(w http.ResponseWriter, req *http.Request) {
		_ = req.ParseForm()
		r.mu.Lock()
		r.requests = append(r.requests, req.PostForm)
		status, body := r.status, r.body
		r.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.auths = append(r.auths, req.Header.Get("Authorization"))
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("blob:" + req.URL.Path))
	})
	r.Server = httptest.NewServer(mux)
	t.Cleanup(r.Close)
	return r
}

func (r *fakeRemote) respond(status int, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status, r.body = status, body
}

func (r *fakeRemote) tokenRequests() []url.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]url.Values(nil), r.requests...)
}

func (r *fakeRemote) authorizations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.auths...)
}

type recordingMetrics struct {
	mu        sync.Mutex
	exchanges []string
	fetches   []string
}

func (m *recordingMetrics) RecordTokenExchange(grant, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, grant+":"+outcome)
}

func (m *recordingMetrics) RecordDelegatedFetch(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches = append(m.fetches, outcome)
}

func assertSameInstance(t *testing.T, expected, actual *Instance) {
	t.Helper()
	assert.Equal(t, expected.ID, actual.ID)
	assert.Equal(t, expected.Name, actual.Name)
	assert.Equal(t, expected.Endpoint, actual.Endpoint)
	assert.Equal(t, expected.AccessToken, actual.AccessToken)
	assert.Equal(t, expected.RefreshToken, actual.RefreshToken)
	assert.Equal(t, expected.Version, actual.Version)
	if expected.Expires == nil {
		assert.Nil(t, actual.Expires)
	} else {
		require.NotNil(t, actual.Expires)
		assert.True(t, expected.Expires.Equal(*actual.Expires), "expires %v != %v", expected.Expires, actual.Expires)
	}
}
