package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/rvmlabs/rvm/internal/logging"
	"github.com/rvmlabs/rvm/internal/metrics"
	"github.com/rvmlabs/rvm/internal/registry"
)

// Deployer is the slice of the registry the admin service consumes.
type Deployer interface {
	Deploy(ctx context.Context, key string, artifact []byte) (string, error)
	Keys() []string
}

// Admin serves the deployment API plus health, module listing and metrics.
type Admin struct {
	deployer Deployer
	maxBody  int64
}

func NewAdmin(deployer Deployer, maxBody int64) *Admin {
	return &Admin{deployer: deployer, maxBody: maxBody}
}

// Handler builds the admin mux.
func (a *Admin) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /deploy/{key}", a.handleDeploy)
	mux.HandleFunc("GET /modules", a.handleModules)
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	if m := metrics.Global(); m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	return mux
}

type deployResponse struct {
	Hash string `json:"hash"`
}

func (a *Admin) handleDeploy(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "artifact too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	hash, err := a.deployer.Deploy(r.Context(), key, body)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidKey) {
			http.Error(w, "invalid module key", http.StatusBadRequest)
			return
		}
		logging.Op().Error("deploy failed", "key", key, "error", err)
		http.Error(w, "deploy failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, deployResponse{Hash: hash})
}

func (a *Admin) handleModules(w http.ResponseWriter, _ *http.Request) {
	keys := a.deployer.Keys()
	sort.Strings(keys)
	writeJSON(w, http.StatusOK, map[string][]string{"modules": keys})
}

func (a *Admin) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Op().Warn("encode response", "error", err)
	}
}
