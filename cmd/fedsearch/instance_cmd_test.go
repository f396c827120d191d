package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"github.com/fedsearch/fedsearch-go/internal/cli/output"
	"github.com/fedsearch/fedsearch-go/internal/oauth"
	"github.com/fedsearch/fedsearch-go/internal/storage"
)

// runCLI executes the root command against an isolated data directory
func runCLI(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(output.EnvOutputFormat, "")

	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--data-dir", dataDir}, args...))

	err := root.Execute()
	return stdout.String(), err
}

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(oauth.TokenPath, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("password") == "wrong" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"access-token-123456","refresh_token":"refresh-token-123456","expires_in":3600}`))
	})
	mux.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "auth=%s", r.Header.Get("Authorization"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestInstanceLifecycle(t *testing.T) {
	dataDir := t.TempDir()

	_, err := runCLI(t, dataDir, "instance", "add", "Public", "https://public.example.com/")
	require.NoError(t, err)

	out, err := runCLI(t, dataDir, "-o", "json", "instance", "list")
	require.NoError(t, err)
	var views []instanceView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "Public", views[0].Name)
	assert.Equal(t, "https://public.example.com", views[0].Endpoint)
	assert.False(t, views[0].Private)

	_, err = runCLI(t, dataDir, "instance", "rename", "Public", "Renamed")
	require.NoError(t, err)

	out, err = runCLI(t, dataDir, "-o", "yaml", "instance", "get", views[0].ID)
	require.NoError(t, err)
	var view instanceView
	require.NoError(t, yaml.Unmarshal([]byte(out), &view))
	assert.Equal(t, "Renamed", view.Name)

	out, err = runCLI(t, dataDir, "instance", "delete", "Renamed")
	require.NoError(t, err)
	assert.Contains(t, out, `Deleted instance "Renamed"`)

	_, err = runCLI(t, dataDir, "instance", "get", "Renamed")
	var se output.StructuredError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, output.ErrCodeInstanceNotFound, se.Code)
}

func TestInstanceAddValidation(t *testing.T) {
	dataDir := t.TempDir()

	_, err := runCLI(t, dataDir, "instance", "add", "local", "https://x.example.com")
	var se output.StructuredError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, output.ErrCodeInvalidInput, se.Code)

	_, err = runCLI(t, dataDir, "instance", "add", "Private", "https://x.example.com", "--private", "--client-id", "id")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, output.ErrCodeInvalidInput, se.Code)
	assert.Contains(t, se.Message, "--password")

	_, err = runCLI(t, dataDir, "instance", "add", "Bad", "nowhere")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, output.ErrCodeAccessDenied, se.Code)

	_, err = runCLI(t, dataDir, "instance", "add", "A", "https://a.example.com")
	require.NoError(t, err)
	_, err = runCLI(t, dataDir, "instance", "add", "A", "https://b.example.com")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, output.ErrCodeNotUnique, se.Code)
}

func TestInstancePrivateAddRefreshAndFetch(t *testing.T) {
	dataDir := t.TempDir()
	remote := newTokenServer(t)

	creds := []string{"--client-id", "cid", "--client-secret", "csecret", "--timeout", "5"}

	args := append([]string{"-o", "json", "instance", "add", "Partner", remote.URL, "--private",
		"--username", "alice", "--password", "wrong"}, creds...)
	_, err := runCLI(t, dataDir, args...)
	var se output.StructuredError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, output.ErrCodeAccessDenied, se.Code)

	args = append([]string{"-o", "json", "instance", "add", "Partner", remote.URL, "--private",
		"--username", "alice", "--password", "s3cret"}, creds...)
	out, err := runCLI(t, dataDir, args...)
	require.NoError(t, err)
	var view instanceView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.True(t, view.Private)
	assert.Equal(t, oauth.MaskSecret("access-token-123456"), view.AccessToken)
	require.NotNil(t, view.Expires)

	out, err = runCLI(t, dataDir, "-o", "json", "instance", "get", "Partner", "--show-tokens")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "access-token-123456", view.AccessToken)

	_, err = runCLI(t, dataDir, append([]string{"instance", "refresh", "Partner"}, creds...)...)
	require.NoError(t, err)

	_, err = runCLI(t, dataDir, "instance", "refresh", "Partner", "--client-id", "cid", "--timeout", "5")
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "--client-secret")

	_, err = runCLI(t, dataDir, "instance", "refresh", "Partner", "--client-id", "cid", "--client-secret", "s", "--timeout", "600")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, output.ErrCodeInvalidInput, se.Code)

	out, err = runCLI(t, dataDir, "instance", "fetch", remote.URL+"/data/doc.xml")
	require.NoError(t, err)
	assert.Equal(t, "auth=Bearer access-token-123456", out)

	target := filepath.Join(t.TempDir(), "doc.xml")
	_, err = runCLI(t, dataDir, "instance", "fetch", remote.URL+"/data/doc.xml", "--out", target)
	require.NoError(t, err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "auth=Bearer access-token-123456", string(data))

	_, err = runCLI(t, dataDir, "instance", "fetch", "https://unknown.example.com/data/x")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, output.ErrCodeInstanceNotFound, se.Code)
}

func TestInstanceTableOutput(t *testing.T) {
	dataDir := t.TempDir()

	out, err := runCLI(t, dataDir, "instance", "list")
	require.NoError(t, err)
	assert.Equal(t, "No results found\n", out)

	_, err = runCLI(t, dataDir, "instance", "add", "Public", "https://public.example.com")
	require.NoError(t, err)

	out, err = runCLI(t, dataDir, "instance", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "https://public.example.com")

	_, err = runCLI(t, dataDir, "-o", "xml", "instance", "list")
	var se output.StructuredError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, output.ErrCodeInvalidOutputFormat, se.Code)
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, ExitCodeSuccess, exitCodeFor(nil))
	assert.Equal(t, ExitCodeGeneralError, exitCodeFor(errors.New("boom")))
	assert.Equal(t, ExitCodeConfigError, exitCodeFor(&configError{err: errors.New("bad")}))
	assert.Equal(t, ExitCodeDBLocked, exitCodeFor(fmt.Errorf("open: %w", storage.ErrDatabaseLocked)))
	assert.Equal(t, ExitCodePortConflict, exitCodeFor(fmt.Errorf("listen: %w", syscall.EADDRINUSE)))
	assert.Equal(t, ExitCodePermissionError, exitCodeFor(fmt.Errorf("open: %w", os.ErrPermission)))

	for _, code := range []int{ExitCodeSuccess, ExitCodeGeneralError, ExitCodePortConflict, ExitCodeDBLocked, ExitCodeConfigError, ExitCodePermissionError} {
		assert.NotEqual(t, "Unknown error", exitCodeDescription(code))
	}
}

func TestConfigErrorExitCode(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "fedsearch.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"max_timeout": -1}`), 0600))

	_, err := runCLI(t, dataDir, "--config", cfgPath, "instance", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCodeConfigError, exitCodeFor(err))
}

func TestSecretCommandsAndReferences(t *testing.T) {
	keyring.MockInit()
	dataDir := t.TempDir()
	remote := newTokenServer(t)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("s3cret\n"))
	root.SetArgs([]string{"secret", "set", "partner-password"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "${keyring:partner-password}")

	t.Setenv("PARTNER_CLIENT_SECRET", "csecret")
	_, err := runCLI(t, dataDir, "instance", "add", "Partner", remote.URL, "--private",
		"--client-id", "cid", "--client-secret", "${env:PARTNER_CLIENT_SECRET}",
		"--username", "alice", "--password", "${keyring:partner-password}")
	require.NoError(t, err)

	_, err = runCLI(t, dataDir, "instance", "refresh", "Partner",
		"--client-id", "cid", "--client-secret", "${env:PARTNER_UNSET_SECRET}")
	var se output.StructuredError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, output.ErrCodeInvalidInput, se.Code)

	_, err = runCLI(t, dataDir, "secret", "delete", "partner-password")
	require.NoError(t, err)
}
