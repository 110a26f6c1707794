// Package hub is the HTTP sync service behind store.Remote. It keeps one
// record per domain and serves page listings and review reports.
//
//	GET  /healthz
//	POST /login
//	GET  /records/{domain}
//	PUT  /records/{domain}
//	GET  /summary/{domain}
//	GET  /annotations?url=
//	GET  /report?url=
//	GET  /report.md?url=
//	GET  /audit/{domain}
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/pagemark/annotation"
	"github.com/hazyhaar/pagemark/audit"
	"github.com/hazyhaar/pagemark/auth"
	"github.com/hazyhaar/pagemark/export"
	"github.com/hazyhaar/pagemark/horosafe"
	"github.com/hazyhaar/pagemark/kit"
	"github.com/hazyhaar/pagemark/shield"
	"github.com/hazyhaar/pagemark/store"
)

// Summarizer is implemented by backends that keep a per-page index.
type Summarizer interface {
	Summary(ctx context.Context, domain string) ([]store.PageSummary, error)
}

// Config wires a hub Server.
type Config struct {
	Backend store.Backend
	// Secret signs bearer tokens. When empty the hub runs open: reads and
	// writes need no token.
	Secret  []byte
	MaxBody int64
	// Audit, when set, records every record write.
	Audit *audit.Logger
	// Users enables POST /login on a hub with a secret.
	Users    *auth.Users
	TokenTTL time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

// Server serves the hub routes.
type Server struct {
	cfg    Config
	router chi.Router
	logger *slog.Logger
}

// New builds the router. It fails when a secret is set but too short.
func New(cfg Config) (*Server, error) {
	if cfg.Backend == nil {
		return nil, errors.New("hub: backend is required")
	}
	if len(cfg.Secret) > 0 {
		if err := horosafe.ValidateSecret(cfg.Secret); err != nil {
			return nil, fmt.Errorf("hub: %w", err)
		}
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = horosafe.MaxBody
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.router = s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.DefaultStack(s.logger, s.cfg.MaxBody) {
		r.Use(mw)
	}
	if len(s.cfg.Secret) > 0 {
		r.Use(auth.Middleware(s.cfg.Secret))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.cfg.Users != nil && len(s.cfg.Secret) > 0 {
		r.Post("/login", s.login)
	}

	r.Group(func(r chi.Router) {
		if len(s.cfg.Secret) > 0 {
			r.Use(auth.RequireAuth)
		}
		r.Get("/records/{domain}", s.getRecord)
		r.Get("/summary/{domain}", s.getSummary)
		r.Get("/annotations", s.getAnnotations)
		r.Get("/report", s.getReport)
		r.Get("/report.md", s.getReportMarkdown)

		r.With(auth.RequireWriter).Put("/records/{domain}", s.putRecord)
		r.With(auth.RequireWriter).Get("/audit/{domain}", s.getAudit)
	})
	return r
}

type loginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	body, err := horosafe.LimitedReadAll(r.Body, 4096)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	var req loginRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Handle == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, errors.New("handle and password are required"))
		return
	}
	claims, err := s.cfg.Users.Authenticate(r.Context(), req.Handle, req.Password)
	if errors.Is(err, auth.ErrBadCredentials) {
		shield.GetLogger(r.Context()).Warn("hub: login refused", "handle", req.Handle)
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if err != nil {
		s.internal(w, r, "login", err)
		return
	}
	tok, err := auth.GenerateToken(s.cfg.Secret, claims, s.cfg.TokenTTL)
	if err != nil {
		s.internal(w, r, "sign token", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tok,
		"user_id":    claims.UserID,
		"role":       claims.Role,
		"expires_at": claims.ExpiresAt.Time.UTC().Format(time.RFC3339),
	})
}

func (s *Server) domainParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	domain := strings.ToLower(chi.URLParam(r, "domain"))
	if err := horosafe.ValidateDomain(domain); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	return domain, true
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	domain, ok := s.domainParam(w, r)
	if !ok {
		return
	}
	rec, err := s.cfg.Backend.Load(r.Context(), domain)
	if err != nil {
		s.internal(w, r, "load", err)
		return
	}
	if rec.Count() == 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("no record for %s", domain))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) putRecord(w http.ResponseWriter, r *http.Request) {
	domain, ok := s.domainParam(w, r)
	if !ok {
		return
	}
	start := time.Now()
	n, code, err := s.replace(r, domain)
	s.audit(r, domain, n, code, err, time.Since(start))
	switch {
	case code == http.StatusInternalServerError:
		s.internal(w, r, "replace", err)
	case err != nil:
		writeError(w, code, err)
	default:
		shield.GetLogger(r.Context()).Info("hub: record replaced",
			"domain", domain, "annotations", n, "user_id", userID(r))
		w.WriteHeader(http.StatusNoContent)
	}
}

// replace decodes and stores the body of a PUT. It returns the annotation
// count and the response status.
func (s *Server) replace(r *http.Request, domain string) (int, int, error) {
	body, err := horosafe.LimitedReadAll(r.Body, s.cfg.MaxBody)
	if err != nil {
		return 0, http.StatusRequestEntityTooLarge, err
	}
	rec := annotation.NewRecord(domain)
	if err := json.Unmarshal(body, rec); err != nil {
		return 0, http.StatusBadRequest, fmt.Errorf("decode record: %w", err)
	}
	if rec.Domain != domain {
		return 0, http.StatusBadRequest, fmt.Errorf("record domain %q does not match %q", rec.Domain, domain)
	}
	if rec.Pages == nil {
		rec.Pages = make(map[string][]annotation.Annotation)
	}
	n := rec.Count()
	if err := rec.Validate(); err != nil {
		return n, http.StatusUnprocessableEntity, err
	}
	if err := s.cfg.Backend.ReplaceAll(r.Context(), rec); err != nil {
		if errors.Is(err, annotation.ErrInvalid) {
			return n, http.StatusUnprocessableEntity, err
		}
		return n, http.StatusInternalServerError, err
	}
	return n, http.StatusNoContent, nil
}

func (s *Server) audit(r *http.Request, domain string, n, code int, err error, took time.Duration) {
	if s.cfg.Audit == nil {
		return
	}
	e := &audit.Entry{
		Timestamp:   s.cfg.Now(),
		Domain:      domain,
		Operation:   "replace",
		UserID:      userID(r),
		RequestID:   kit.GetTraceID(r.Context()),
		Annotations: n,
		Status:      audit.StatusSuccess,
		DurationMs:  took.Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
		e.Status = audit.StatusRejected
		if code >= http.StatusInternalServerError {
			e.Status = audit.StatusError
		}
	}
	s.cfg.Audit.LogAsync(e)
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	domain, ok := s.domainParam(w, r)
	if !ok {
		return
	}
	if s.cfg.Audit == nil {
		writeError(w, http.StatusNotImplemented, errors.New("audit trail disabled"))
		return
	}
	f := audit.Filter{Domain: domain, Status: r.URL.Query().Get("status")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be 1..1000"))
			return
		}
		f.Limit = n
	}
	entries, err := s.cfg.Audit.Query(r.Context(), f)
	if err != nil {
		s.internal(w, r, "audit", err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "entries": entries})
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	domain, ok := s.domainParam(w, r)
	if !ok {
		return
	}
	sum, ok := s.cfg.Backend.(Summarizer)
	if !ok {
		writeError(w, http.StatusNotImplemented, errors.New("backend keeps no summary index"))
		return
	}
	pages, err := sum.Summary(r.Context(), domain)
	if err != nil {
		s.internal(w, r, "summary", err)
		return
	}
	if pages == nil {
		pages = []store.PageSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "pages": pages})
}

// pageAnnotations resolves ?url= to its bucket.
func (s *Server) pageAnnotations(w http.ResponseWriter, r *http.Request) (string, []annotation.Annotation, bool) {
	pageURL := r.URL.Query().Get("url")
	if err := horosafe.ValidateHTTPURL(pageURL); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", nil, false
	}
	domain, path, err := annotation.Key(pageURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", nil, false
	}
	rec, err := s.cfg.Backend.Load(r.Context(), domain)
	if err != nil {
		s.internal(w, r, "load", err)
		return "", nil, false
	}
	return pageURL, rec.Bucket(path), true
}

func (s *Server) getAnnotations(w http.ResponseWriter, r *http.Request) {
	pageURL, list, ok := s.pageAnnotations(w, r)
	if !ok {
		return
	}
	if list == nil {
		list = []annotation.Annotation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": pageURL, "annotations": list})
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) (export.Report, bool) {
	pageURL, list, ok := s.pageAnnotations(w, r)
	if !ok {
		return export.Report{}, false
	}
	return export.Report{PageURL: pageURL, Generated: s.cfg.Now(), Annotations: list}, true
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := export.HTML(w, rep); err != nil {
		shield.GetLogger(r.Context()).Warn("hub: render report", "error", err)
	}
}

func (s *Server) getReportMarkdown(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r)
	if !ok {
		return
	}
	md, err := export.Markdown(rep)
	if err != nil {
		s.internal(w, r, "markdown", err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(md))
}

func (s *Server) internal(w http.ResponseWriter, r *http.Request, op string, err error) {
	shield.GetLogger(r.Context()).Error("hub: "+op, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func userID(r *http.Request) string {
	if c := auth.GetClaims(r.Context()); c != nil {
		return c.UserID
	}
	return ""
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
