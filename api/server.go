/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. AccessLog:  Structured request logging (logrus)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/scenarios/*      Demo scenarios (public, only when Demo is set)
  /api/units/*          Unit tree
  /api/people/*         People registry
  /api/reports/*        Daily attendance reports
  /api/categories       Absence categories
  /api/change-requests  Change-request workflow

  Everything except /api/scenarios and /healthz requires a bearer token.
  Without Demo the scenario routes are not mounted at all.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// RouterOptions configures cross-cutting router concerns.
type RouterOptions struct {
	CORSOrigins []string
	Log         logrus.FieldLogger

	// Demo mounts the scenario routes.
	Demo bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Log == nil {
		opts.Log = h.Log
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(opts.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// Scenario routes
		if opts.Demo {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(h.Tokens.Authenticate)

			// Unit routes
			r.Route("/units", func(r chi.Router) {
				r.Get("/", h.ListUnits)
				r.Post("/", h.CreateUnit)
				r.Post("/{id}/move", h.MoveUnit)
			})

			// People routes
			r.Route("/people", func(r chi.Router) {
				r.Get("/", h.ListPeople)
				r.Post("/", h.CreatePerson)
				r.Get("/{id}", h.GetPerson)
				r.Patch("/{id}", h.UpdatePerson)
			})

			// Daily report routes
			r.Get("/categories", h.ListCategories)
			r.Route("/reports", func(r chi.Router) {
				r.Post("/", h.CreateReport)
				r.Get("/{id}", h.GetReport)
				r.Post("/{id}/justifications", h.AddJustification)
				r.Put("/{id}/justifications/{rowId}", h.UpdateJustification)
				r.Delete("/{id}/justifications/{rowId}", h.DeleteJustification)
				r.Post("/{id}/submit", h.SubmitReport)
				r.Post("/{id}/decide", h.DecideReport)
				r.Get("/{id}/summary", h.ReportSummary)
			})

			// Change request routes
			r.Route("/change-requests", func(r chi.Router) {
				r.Post("/", h.CreateChangeRequest)
				r.Get("/mine", h.ListMyChangeRequests)
				r.Get("/inbox", h.ListInbox)
				r.Get("/{id}", h.GetChangeRequest)
				r.Post("/{id}/approve", h.ApproveChangeRequest)
				r.Post("/{id}/reject", h.RejectChangeRequest)
				r.Post("/{id}/cancel", h.CancelChangeRequest)
				r.Get("/{id}/document", h.DownloadDocument)
				r.Post("/{id}/document", h.RegenerateDocument)
			})
		})
	})

	return r
}

// AccessLog logs one line per request. Server errors log at error level,
// client errors at warn.
func AccessLog(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			entry := log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"latency":    time.Since(start).String(),
				"remote":     r.RemoteAddr,
			})
			switch {
			case ww.Status() >= 500:
				entry.Error("request")
			case ww.Status() >= 400:
				entry.Warn("request")
			default:
				entry.Info("request")
			}
		})
	}
}
