package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/asr-client/internal/handler/auth"
	"github.com/zhouzirui/asr-client/internal/handler/hotword"
	"github.com/zhouzirui/asr-client/internal/handler/realtime"
	"github.com/zhouzirui/asr-client/internal/handler/task"
	middlewarePkg "github.com/zhouzirui/asr-client/internal/middleware"
	"github.com/zhouzirui/asr-client/internal/service/backend"
	"github.com/zhouzirui/asr-client/pkg/utils"
)

// RouterOptions tunes the development backend.
type RouterOptions struct {
	DisableTaskListing bool
	MaxUploadBytes     int64
}

// NewRouter wires the ASR backend contract to the in-memory service.
func NewRouter(svc *backend.Service, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	taskOpts := []task.Option{task.WithListingDisabled(opts.DisableTaskListing)}
	if opts.MaxUploadBytes > 0 {
		taskOpts = append(taskOpts, task.WithMaxUpload(opts.MaxUploadBytes))
	}

	authHandler := auth.New(svc)
	taskHandler := task.New(svc, taskOpts...)
	hotwordHandler := hotword.New(svc)
	realtimeHandler := realtime.New(svc)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Public routes
	authHandler.RegisterRoutes(r)
	realtimeHandler.RegisterRoutes(r)

	r.Group(func(protected chi.Router) {
		protected.Use(middlewarePkg.BearerAuth(svc))

		authHandler.RegisterProtectedRoutes(protected)
		taskHandler.RegisterRoutes(protected)
		hotwordHandler.RegisterRoutes(protected)
	})

	return r
}
