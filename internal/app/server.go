package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// LocalUser is the identity used when basic auth is not configured.
const LocalUser = "local"

// Server handles HTTP requests for the bill-splitting API
type Server struct {
	service   *Service
	basicAuth BasicAuth
	metrics   *Metrics
	mux       *http.ServeMux
	http      *http.Server
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) enabled() bool {
	return a.Username != "" || a.Password != ""
}

type userKey struct{}

// userID returns the identity attached by requireAuth.
func userID(r *http.Request) string {
	if id, ok := r.Context().Value(userKey{}).(string); ok {
		return id
	}
	return LocalUser
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth, metrics *Metrics) *Server {
	return NewServerWithMux(service, basicAuth, metrics, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, metrics *Metrics, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		metrics:   metrics,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials and returns the user identity
func (s *Server) authenticate(r *http.Request) (string, bool) {
	if !s.basicAuth.enabled() {
		return LocalUser, true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	if !userOK || !passOK {
		return "", false
	}
	return user, true
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authenticate(r)
		if !ok {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Bill Split"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

// corsMiddleware adds CORS headers and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, s.metrics.instrument(pattern, s.requireAuth(h)))
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Session
	s.handle("GET /api/session", s.handleGetSession)
	s.handle("POST /api/session/scan", s.handleScan)
	s.handle("POST /api/session/receipt", s.handleSubmitReceipt)
	s.handle("POST /api/session/people", s.handleAddPerson)
	s.handle("DELETE /api/session/people/{id}", s.handleRemovePerson)
	s.handle("GET /api/session/suggestions", s.handleSuggestions)
	s.handle("POST /api/session/items/{item}/people/{person}", s.handleToggle)
	s.handle("POST /api/session/split", s.handleSplit)
	s.handle("POST /api/session/settle", s.handleSettle)
	s.handle("POST /api/session/back", s.handleBack)
	s.handle("POST /api/session/reset", s.handleReset)
	s.handle("POST /api/session/save", s.handleSave)

	// History
	s.handle("GET /api/receipts/{id}", s.handleGetReceipt)
	s.handle("DELETE /api/receipts/{id}", s.handleDeleteReceipt)
	s.handle("GET /api/receipts", s.handleListReceipts)

	// Groups
	s.handle("POST /api/groups/{id}/load", s.handleLoadGroup)
	s.handle("DELETE /api/groups/{id}", s.handleDeleteGroup)
	s.handle("GET /api/groups", s.handleListGroups)
	s.handle("POST /api/groups", s.handleSaveGroup)

	// Preferences
	s.handle("GET /api/preferences", s.handleGetPreferences)
	s.handle("PUT /api/preferences", s.handleSetPreferences)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Start serves until Shutdown is called
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	corsMiddleware(s.mux).ServeHTTP(w, r)
}
