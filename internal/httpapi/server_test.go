package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fedsearch/fedsearch-go/internal/config"
	"github.com/fedsearch/fedsearch-go/internal/instance"
	"github.com/fedsearch/fedsearch-go/internal/oauth"
	"github.com/fedsearch/fedsearch-go/internal/observability"
	"github.com/fedsearch/fedsearch-go/internal/storage"
)

const tokenBody = `{"access_token":"tok1","refresh_token":"ref1","expires_in":3600,"token_type":"Bearer"}`

// remote serves a token endpoint and a static resource
type remote struct {
	*httptest.Server

	mu     sync.Mutex
	status int
	body   string
	auths  []string
}

func newRemote(t *testing.T) *remote {
	t.Helper()
	r := &remote{status: http.StatusOK, body: tokenBody}
	mux := http.NewServeMux()
	mux.HandleFunc(oauth.TokenPath, func(w http.ResponseWriter, _ *http.Request) {
		r.mu.Lock()
		status, body := r.status, r.body
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/data/", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.auths = append(r.auths, req.Header.Get("Authorization"))
		r.mu.Unlock()
		w.Header().Set("Content-Type", "text/xml")
		w.Header().Set("Content-Disposition", `attachment; filename="doc.xml"`)
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Set-Cookie", "session=remote")
		w.Header().Set("Content-Length", "6")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("<doc/>"))
	})
	r.Server = httptest.NewServer(mux)
	t.Cleanup(r.Close)
	return r
}

func (r *remote) respond(status int, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status, r.body = status, body
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestServer(t *testing.T, apiKey string) (*Server, *observability.Manager) {
	t.Helper()
	logger := zap.NewNop()

	db, err := storage.NewBoltDB(t.TempDir(), logger.Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	obs, err := observability.NewManager(logger.Sugar(), &config.ObservabilityConfig{MetricsEnabled: true}, "test")
	require.NoError(t, err)
	obs.RegisterHealthChecker(observability.NewDatabaseHealthChecker("bbolt", db))

	svc := instance.NewService(db, oauth.NewTokenClient(nil, logger), instance.ServiceConfig{
		FetchTimeout: 5 * time.Second,
		Metrics:      obs.Metrics(),
	}, logger)

	return NewServer(svc, Options{APIKey: apiKey, MaxTimeout: 60}, logger.Sugar(), obs), obs
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decodeInstance(t *testing.T, env envelope) instance.Instance {
	t.Helper()
	var inst instance.Instance
	require.NoError(t, json.Unmarshal(env.Data, &inst))
	return inst
}

func privateBody(name, endpoint string) map[string]interface{} {
	return map[string]interface{}{
		"name":          name,
		"endpoint":      endpoint,
		"client_id":     "cid",
		"client_secret": "csecret",
		"username":      "user",
		"password":      "pass",
		"timeout":       "1",
	}
}

func TestCreateAndGetInstance(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rem := newRemote(t)

	rec, env := do(t, srv, http.MethodPost, "/rest/instance", privateBody("Alpha", rem.URL+"/"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)

	created := decodeInstance(t, env)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Alpha", created.Name)
	assert.Equal(t, rem.URL, created.Endpoint)
	assert.Equal(t, "tok1", created.AccessToken)
	assert.Equal(t, "ref1", created.RefreshToken)
	require.NotNil(t, created.Expires)

	rec, env = do(t, srv, http.MethodGet, "/rest/instance/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alpha", decodeInstance(t, env).Name)

	rec, env = do(t, srv, http.MethodGet, "/rest/instance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []instance.Instance
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)
}

func TestCreatePublicInstance(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec, env := do(t, srv, http.MethodPost, "/rest/instance", map[string]interface{}{
		"name":       "Public",
		"endpoint":   "http://unreachable.invalid",
		"is_private": false,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inst := decodeInstance(t, env)
	assert.Empty(t, inst.AccessToken)
	assert.Nil(t, inst.Expires)
}

func TestCreateInstanceValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rem := newRemote(t)

	tests := []struct {
		name    string
		mutate  func(body map[string]interface{})
		message string
	}{
		{"blank name", func(b map[string]interface{}) { b["name"] = "   " }, "should not be empty"},
		{"reserved name", func(b map[string]interface{}) { b["name"] = "local" }, "currently running"},
		{"missing endpoint", func(b map[string]interface{}) { delete(b, "endpoint") }, "endpoint"},
		{"missing password", func(b map[string]interface{}) { b["password"] = "" }, "password"},
		{"missing timeout", func(b map[string]interface{}) { delete(b, "timeout") }, "timeout"},
		{"timeout too large", func(b map[string]interface{}) { b["timeout"] = 61 }, "between 1 and 60"},
		{"timeout zero", func(b map[string]interface{}) { b["timeout"] = "0" }, "between 1 and 60"},
		{"malformed endpoint", func(b map[string]interface{}) { b["endpoint"] = "not a url" }, instance.MsgEndpointMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := privateBody("Alpha", rem.URL)
			tt.mutate(body)

			rec, env := do(t, srv, http.MethodPost, "/rest/instance", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.False(t, env.Success)
			assert.Contains(t, env.Error, tt.message)
		})
	}

	rec, env := do(t, srv, http.MethodGet, "/rest/instance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", string(env.Data))
}

func TestCreateInstanceRejectedByRemote(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rem := newRemote(t)
	rem.respond(http.StatusUnauthorized, `{"error":"invalid_grant"}`)

	rec, env := do(t, srv, http.MethodPost, "/rest/instance", privateBody("Alpha", rem.URL))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, instance.MsgAccessDenied, env.Error)
}

func TestCreateDuplicateInstance(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rem := newRemote(t)

	rec, _ := do(t, srv, http.MethodPost, "/rest/instance", privateBody("Alpha", rem.URL))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := do(t, srv, http.MethodPost, "/rest/instance", privateBody("Alpha", rem.URL+"/other"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, instance.MsgNotUnique, env.Error)
}

func TestRenameInstance(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rem := newRemote(t)

	_, env := do(t, srv, http.MethodPost, "/rest/instance", privateBody("Alpha", rem.URL))
	created := decodeInstance(t, env)

	rec, env := do(t, srv, http.MethodPatch, "/rest/instance/"+created.ID, map[string]string{"name": " Beta "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	renamed := decodeInstance(t, env)
	assert.Equal(t, "Beta", renamed.Name)
	assert.Equal(t, created.AccessToken, renamed.AccessToken)

	rec, _ = do(t, srv, http.MethodPatch, "/rest/instance/"+created.ID, map[string]string{"name": "LOCAL"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshInstance(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rem := newRemote(t)

	_, env := do(t, srv, http.MethodPost, "/rest/instance", privateBody("Alpha", rem.URL))
	created := decodeInstance(t, env)

	rem.respond(http.StatusOK, `{"access_token":"tok2","refresh_token":"ref2","expires_in":60}`)
	rec, env := do(t, srv, http.MethodPatch, "/rest/instance/"+created.ID+"/refresh", map[string]interface{}{
		"client_id":     "cid",
		"client_secret": "csecret",
		"timeout":       5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refreshed := decodeInstance(t, env)
	assert.Equal(t, "tok2", refreshed.AccessToken)
	assert.Equal(t, "ref2", refreshed.RefreshToken)

	rem.respond(http.StatusBadRequest, `{"error":"invalid_grant"}`)
	rec, env = do(t, srv, http.MethodPatch, "/rest/instance/"+created.ID+"/refresh", map[string]interface{}{
		"client_id":     "cid",
		"client_secret": "csecret",
		"timeout":       "5",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, instance.MsgAccessDenied, env.Error)

	rec, env = do(t, srv, http.MethodGet, "/rest/instance/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok2", decodeInstance(t, env).AccessToken, "a rejected refresh keeps the stored tokens")

	rec, env = do(t, srv, http.MethodPatch, "/rest/instance/"+created.ID+"/refresh", map[string]interface{}{
		"client_id": "cid",
		"timeout":   5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "client_secret")
}

func TestDeleteInstance(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rem := newRemote(t)

	_, env := do(t, srv, http.MethodPost, "/rest/instance", privateBody("Alpha", rem.URL))
	created := decodeInstance(t, env)

	rec, _ := do(t, srv, http.MethodDelete, "/rest/instance/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, env = do(t, srv, http.MethodDelete, "/rest/instance/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, msgInstanceNotFound, env.Error)
}

func TestInstanceNotFound(t *testing.T) {
	srv, _ := newTestServer(t, "")

	for _, id := range []string{"not-a-uuid", "2f1c1f9e-2d54-4a58-9a57-5d6f3bb3a1f0"} {
		rec, env := do(t, srv, http.MethodGet, "/rest/instance/"+id, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, msgInstanceNotFound, env.Error)
	}
}

func TestGetBlob(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rem := newRemote(t)

	rec, _ := do(t, srv, http.MethodPost, "/rest/instance", privateBody("Alpha", rem.URL))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = do(t, srv, http.MethodGet, "/rest/blob?url="+rem.URL+"/data/1", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="doc.xml"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "max-age=60", rec.Header().Get("Cache-Control"))
	assert.Equal(t, `"v1"`, rec.Header().Get("ETag"))
	assert.Equal(t, "6", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Header().Get("Set-Cookie"))
	assert.Equal(t, "<doc/>", rec.Body.String())

	rem.mu.Lock()
	assert.Equal(t, []string{"Bearer tok1"}, rem.auths)
	rem.mu.Unlock()

	rec, env := do(t, srv, http.MethodGet, "/rest/blob?url=http://elsewhere.example.com/data/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, env.Error)

	rec, _ = do(t, srv, http.MethodGet, "/rest/blob", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyProtectsAllRestRoutes(t *testing.T) {
	srv, _ := newTestServer(t, "secret-key")

	rec, env := do(t, srv, http.MethodPost, "/rest/instance", map[string]interface{}{
		"name": "Public", "endpoint": "http://p.example.com", "is_private": false,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)

	rec, _ = do(t, srv, http.MethodPost, "/rest/instance", map[string]interface{}{
		"name": "Public", "endpoint": "http://p.example.com", "is_private": false,
	}, "X-API-Key", "secret-key")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = do(t, srv, http.MethodPost, "/rest/instance?apikey=secret-key", map[string]interface{}{
		"name": "Public2", "endpoint": "http://p2.example.com", "is_private": false,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rem := newRemote(t)
	rec, env = do(t, srv, http.MethodPost, "/rest/instance", privateBody("Alpha", rem.URL), "X-API-Key", "secret-key")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeInstance(t, env)

	keyless := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/rest/instance"},
		{http.MethodGet, "/rest/instance/" + created.ID},
		{http.MethodGet, "/rest/blob?url=" + rem.URL + "/data/1"},
		{http.MethodPatch, "/rest/instance/" + created.ID},
		{http.MethodDelete, "/rest/instance/" + created.ID},
		{http.MethodPatch, "/rest/instance/" + created.ID + "/refresh"},
	}
	for _, tt := range keyless {
		rec, env := do(t, srv, tt.method, tt.target, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tt.method+" "+tt.target)
		assert.NotContains(t, rec.Body.String(), "tok1")
		assert.NotContains(t, rec.Body.String(), "ref1")
		assert.False(t, env.Success)
	}

	// the stored token never reached the remote on behalf of a keyless caller
	rem.mu.Lock()
	assert.Empty(t, rem.auths)
	rem.mu.Unlock()

	rec, env = do(t, srv, http.MethodGet, "/rest/instance", nil, "X-API-Key", "secret-key")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []instance.Instance
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 3)

	rec, _ = do(t, srv, http.MethodGet, "/rest/blob?apikey=secret-key&url="+rem.URL+"/data/1", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rem.mu.Lock()
	assert.Equal(t, []string{"Bearer tok1"}, rem.auths)
	rem.mu.Unlock()
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec, _ := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, srv, http.MethodGet, "/rest/instance", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fedsearch_http_requests_total{method="GET",route="/rest/instance",status="200"} 1`)
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec, _ := do(t, srv, http.MethodGet, "/rest/instance", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestSecondsUnmarshal(t *testing.T) {
	var s Seconds
	require.NoError(t, json.Unmarshal([]byte(`12`), &s))
	assert.Equal(t, Seconds{Value: 12, Set: true}, s)

	require.NoError(t, json.Unmarshal([]byte(`" 7 "`), &s))
	assert.Equal(t, Seconds{Value: 7, Set: true}, s)

	require.NoError(t, json.Unmarshal([]byte(`null`), &s))
	assert.False(t, s.Set)

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &s))
	assert.Error(t, json.Unmarshal([]byte(`1.5`), &s))
}
