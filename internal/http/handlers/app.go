package handlers

import (
	"encoding/json"
	"net/http"

	"storyforge/internal/capability"
	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/pipeline"
	"storyforge/internal/storage"
)

// App bundles the dependencies the HTTP handlers need.
type App struct {
	Repo     domain.JobRepository
	Runner   pipeline.Enqueuer
	Blobs    storage.Store
	Resolver *capability.Resolver
	Logger   infra.Logger
}

func NewApp(repo domain.JobRepository, runner pipeline.Enqueuer, blobs storage.Store, resolver *capability.Resolver, logger infra.Logger) *App {
	return &App{
		Repo:     repo,
		Runner:   runner,
		Blobs:    blobs,
		Resolver: resolver,
		Logger:   logger,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"code": code, "message": message})
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
