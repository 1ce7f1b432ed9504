package http

import (
	"net/http"
	"time"

	"github.com/cwrk-planet/meet-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Deps struct {
	Rooms         Rooms
	PublicBaseURL string
	// Empty = any origin.
	AllowedOrigins []string

	// WS upgrades GET /ws. Optional.
	WS http.HandlerFunc
	// Metrics serves GET /metrics. Optional.
	Metrics http.Handler
	// Ready reports readiness for GET /healthz. Nil = always ready.
	Ready func() bool
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httputil.MiddlewareRequestID)
	r.Use(httputil.MiddlewareLogging)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil && !d.Ready() {
			httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
			return
		}
		httputil.OK(w, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	// Long-lived: no timeout and no compression on the upgrade path.
	if d.WS != nil {
		r.Get("/ws", d.WS)
	}

	mh := &MeetHandlers{Rooms: d.Rooms, PublicBaseURL: d.PublicBaseURL}
	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Use(middleware.Timeout(15 * time.Second))

		r.Post("/create-meet", mh.CreateMeet)
		r.Get("/validate-meet/{id}", mh.ValidateMeet)
		r.Get("/rooms/{id}", mh.GetRoom)
	})

	return r
}
