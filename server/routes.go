package server

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dotside-studios/closet-nfc/nfc/webnfc"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("closet-nfc agent running"))
	})
	r.Get("/ws", s.handleSocket)
	if s.config.CA != nil {
		r.Method(http.MethodGet, "/ca.pem", s.config.CA)
	}
	if s.config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.config.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(middleware.AllowContentType("application/json"))

		r.Route("/nfc", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Post("/read", s.handleRead)
			r.Post("/write", s.handleWrite)
			r.Post("/cancel", s.handleCancel)
			r.Get("/continuous", s.handleContinuous)
		})

		r.Route("/tags", func(r chi.Router) {
			r.Post("/generate", s.handleGenerate)
			r.Post("/inspect", s.handleInspect)
			r.Get("/{tagId}", s.handleFindTag)
		})

		r.Put("/entities/{type}/{id}/tag", s.handleBindTag)
		r.Delete("/entities/{type}/{id}/tag", s.handleUnbindTag)

		r.Post("/garments/lookup", s.handleLookup)

		r.Route("/boxes", func(r chi.Router) {
			r.Get("/", s.handleListBoxes)
			r.Post("/", s.handleCreateBox)
			r.Get("/recommended", s.handleRecommended)
			r.Put("/{id}", s.handleUpdateBox)
			r.Delete("/{id}", s.handleDeleteBox)
			r.Post("/{id}/assign", s.handleAssign)
		})
	})
	return r
}

// cors allows the configured origins, or every origin when none are configured.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return len(s.config.AllowedOrigins) == 0 || slices.Contains(s.config.AllowedOrigins, origin)
}

// checkOrigin applies the API's origin policy to device sockets.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.originAllowed(origin)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil || !webnfc.IsDeviceConnection(r) {
		http.Error(w, "only device connections are accepted; connect with ?mode=device", http.StatusBadRequest)
		return
	}
	s.devices.ServeHTTP(w, r)
}
