package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liveclass-backend/internal/handlers"
	"liveclass-backend/internal/middleware"
	"liveclass-backend/internal/websocket"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	Courses       *handlers.CourseHandler
	LiveSessions  *handlers.LiveSessionHandler
	Meetings      *handlers.MeetingHandler
	Groups        *handlers.GroupHandler
	Notifications *handlers.NotificationHandler
}

type Options struct {
	FrontendURL       string
	MeetingCreateRate int
	HealthChecks      map[string]HealthCheck
}

func New(jwtAuth *middleware.JWTAuth, h Handlers, wsHub *websocket.Hub, opts Options) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(opts.FrontendURL))

	rate := opts.MeetingCreateRate
	if rate <= 0 {
		rate = 20
	}
	// Each of these creates a remote meeting.
	createLimiter := middleware.RateLimit(rate, time.Minute)

	r.Get("/health", healthHandler(opts.HealthChecks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)

			// ──── Course Routes ────
			r.Route("/courses", func(r chi.Router) {
				r.Post("/", h.Courses.Create)
				r.Get("/", h.Courses.List)
				r.Get("/{courseId}", h.Courses.Get)
			})

			// ──── Live Session Routes ────
			r.Route("/live-sessions", func(r chi.Router) {
				r.Get("/", h.LiveSessions.List)
				r.Route("/{courseId}", func(r chi.Router) {
					r.With(createLimiter).Post("/", h.LiveSessions.Create)
					r.Get("/", h.LiveSessions.ListForCourse)
					r.Put("/{sessionId}", h.LiveSessions.Update)
					r.Delete("/{sessionId}", h.LiveSessions.Delete)
					r.Post("/{sessionId}/record", h.LiveSessions.Record)
				})
			})

			// ──── Meeting Routes ────
			r.Route("/zoom/meetings", func(r chi.Router) {
				r.With(createLimiter).Post("/", h.Meetings.Create)
				r.Get("/", h.Meetings.List)
				r.With(createLimiter).Post("/group/{groupId}", h.Meetings.CreateForGroup)
				r.Get("/{id}", h.Meetings.Get)
				r.Patch("/{id}", h.Meetings.Update)
				r.Delete("/{id}", h.Meetings.Delete)
				r.Get("/{id}/join", h.Meetings.Join)
			})

			// ──── Group Routes ────
			r.Route("/groups", func(r chi.Router) {
				r.Post("/", h.Groups.Create)
				r.Get("/{groupId}", h.Groups.Get)
				r.Get("/{groupId}/meetings", h.Groups.Meetings)
			})

			// ──── Notification Routes ────
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.Notifications.List)
				r.Put("/read-all", h.Notifications.MarkAllRead)
				r.Put("/{id}/read", h.Notifications.MarkRead)
			})
		})

		// ──── WebSocket ────
		// Authenticates with ?token= itself.
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		body := `{"status":"ok"}`
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body = `{"status":"degraded","failing":"` + name + `"}`
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}
