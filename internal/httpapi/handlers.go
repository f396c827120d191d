package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fedsearch/fedsearch-go/internal/instance"
)

const msgInstanceNotFound = "Instance not found."

// blobHeaders are the remote response headers passed through by /rest/blob
var blobHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Disposition",
	"Content-Encoding",
	"Content-Language",
	"Cache-Control",
	"ETag",
	"Expires",
	"Last-Modified",
}

// Seconds is a timeout field that accepts both 5 and "5"
type Seconds struct {
	Value int
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler
func (s *Seconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = Seconds{}
		return nil
	}

	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("a valid integer is required")
	}
	*s = Seconds{Value: n, Set: true}
	return nil
}

// CreateInstanceRequest is the body of POST /rest/instance
type CreateInstanceRequest struct {
	Name         string  `json:"name"`
	Endpoint     string  `json:"endpoint"`
	IsPrivate    *bool   `json:"is_private,omitempty"`
	ClientID     string  `json:"client_id"`
	ClientSecret string  `json:"client_secret"`
	Timeout      Seconds `json:"timeout"`
	Username     string  `json:"username"`
	Password     string  `json:"password"`
}

// RenameInstanceRequest is the body of PATCH /rest/instance/{id}
type RenameInstanceRequest struct {
	Name string `json:"name"`
}

// RefreshInstanceRequest is the body of PATCH /rest/instance/{id}/refresh
type RefreshInstanceRequest struct {
	ClientID     string  `json:"client_id"`
	ClientSecret string  `json:"client_secret"`
	Timeout      Seconds `json:"timeout"`
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.service.GetAll()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if instances == nil {
		instances = []*instance.Instance{}
	}
	s.writeSuccess(w, http.StatusOK, instances)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.loadInstance(w, r)
	if !ok {
		return
	}
	s.writeSuccess(w, http.StatusOK, inst)
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// registrations over REST run the password grant unless asked otherwise
	private := req.IsPrivate == nil || *req.IsPrivate

	name := strings.TrimSpace(req.Name)
	if err := instance.ValidateName(name, s.service.ReservedName()); err != nil {
		s.writeError(w, http.StatusBadRequest, instance.Message(err))
		return
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		s.writeError(w, http.StatusBadRequest, "endpoint: This field is required.")
		return
	}

	var timeout time.Duration
	if private {
		if field := firstMissing(map[string]string{
			"client_id":     req.ClientID,
			"client_secret": req.ClientSecret,
			"username":      req.Username,
			"password":      req.Password,
		}); field != "" {
			s.writeError(w, http.StatusBadRequest, field+": This field is required.")
			return
		}
		var err error
		if timeout, err = s.timeout(req.Timeout); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	inst, err := s.service.Register(r.Context(), instance.RegisterRequest{
		Name:         name,
		Endpoint:     req.Endpoint,
		IsPrivate:    private,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		Username:     req.Username,
		Password:     req.Password,
		Timeout:      timeout,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccess(w, http.StatusCreated, inst)
}

func (s *Server) handleRenameInstance(w http.ResponseWriter, r *http.Request) {
	var req RenameInstanceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inst, ok := s.loadInstance(w, r)
	if !ok {
		return
	}

	name := strings.TrimSpace(req.Name)
	if err := instance.ValidateName(name, s.service.ReservedName()); err != nil {
		s.writeError(w, http.StatusBadRequest, instance.Message(err))
		return
	}

	renamed, err := s.service.Rename(inst.ID, name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccess(w, http.StatusOK, renamed)
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.loadInstance(w, r)
	if !ok {
		return
	}
	if err := s.service.Delete(inst); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshInstance(w http.ResponseWriter, r *http.Request) {
	var req RefreshInstanceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inst, ok := s.loadInstance(w, r)
	if !ok {
		return
	}

	if field := firstMissing(map[string]string{
		"client_id":     req.ClientID,
		"client_secret": req.ClientSecret,
	}); field != "" {
		s.writeError(w, http.StatusBadRequest, field+": This field is required.")
		return
	}
	timeout, err := s.timeout(req.Timeout)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	refreshed, err := s.service.Refresh(r.Context(), inst, req.ClientID, req.ClientSecret, timeout)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccess(w, http.StatusOK, refreshed)
}

// handleGetBlob fetches a resource hosted by a registered instance on behalf
// of the caller and streams it back
func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		s.writeError(w, http.StatusBadRequest, "url: This parameter is required.")
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		s.writeError(w, http.StatusBadRequest, "url: Enter a valid URL.")
		return
	}
	base := u.Scheme + "://" + u.Host

	resp, err := s.service.DelegateFetch(r.Context(), base, rawURL)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if resp == nil {
		s.writeError(w, http.StatusNotFound, msgInstanceNotFound)
		return
	}
	defer resp.Body.Close()

	for _, name := range blobHeaders {
		for _, value := range resp.Header.Values(name) {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		GetLogger(r.Context()).Warnw("Failed to stream remote resource", "error", err)
	}
}

// loadInstance resolves the {id} route parameter, writing 404 when it
// names no instance
func (s *Server) loadInstance(w http.ResponseWriter, r *http.Request) (*instance.Instance, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		s.writeError(w, http.StatusNotFound, msgInstanceNotFound)
		return nil, false
	}

	inst, err := s.service.GetByID(id)
	if err != nil {
		if errors.Is(err, instance.ErrDoesNotExist) {
			s.writeError(w, http.StatusNotFound, msgInstanceNotFound)
			return nil, false
		}
		s.writeServiceError(w, r, err)
		return nil, false
	}
	return inst, true
}

// writeServiceError maps an instance error kind to a status code
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, instance.ErrAPI):
		status = http.StatusBadRequest
	case errors.Is(err, instance.ErrNotUnique):
		status = http.StatusConflict
	case errors.Is(err, instance.ErrDoesNotExist):
		status = http.StatusNotFound
	}

	logger := GetLogger(r.Context())
	if status == http.StatusInternalServerError {
		logger.Errorw("Instance operation failed", "path", r.URL.Path, "error", err)
	} else {
		logger.Debugw("Instance operation refused", "path", r.URL.Path, "status", status, "error", err)
	}
	s.writeError(w, status, instance.Message(err))
}

// timeout checks a caller-supplied timeout against the configured ceiling
func (s *Server) timeout(t Seconds) (time.Duration, error) {
	if !t.Set {
		return 0, errors.New("timeout: This field is required.")
	}
	if t.Value < 1 || t.Value > s.options.MaxTimeout {
		return 0, fmt.Errorf("timeout: Ensure this value is between 1 and %d.", s.options.MaxTimeout)
	}
	return time.Duration(t.Value) * time.Second, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("Invalid request body: %v", err)
	}
	return nil
}

// firstMissing returns the alphabetically first blank field name
func firstMissing(fields map[string]string) string {
	missing := ""
	for name, value := range fields {
		if strings.TrimSpace(value) == "" && (missing == "" || name < missing) {
			missing = name
		}
	}
	return missing
}
