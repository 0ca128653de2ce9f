package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/DeafMist/tagme/internal/config"
	"github.com/DeafMist/tagme/internal/elasticsearch"
	"github.com/DeafMist/tagme/internal/logger"
	"github.com/DeafMist/tagme/tagme"
)

const tokenHeader = "X-Gcube-Token"

var (
	validate = validator.New()

	errNoResult = errors.New("tagme returned no result")
)

type tagMe interface {
	Annotate(ctx context.Context, text string, opts ...tagme.CallOption) (*tagme.AnnotateResponse, error)
	FindMentions(ctx context.Context, text string, opts ...tagme.CallOption) (*tagme.MentionsResponse, error)
	RelatednessByID(ctx context.Context, pairs []tagme.IDPair, opts ...tagme.CallOption) (*tagme.RelatednessResponse, error)
	RelatednessByTitle(ctx context.Context, pairs []tagme.TitlePair, opts ...tagme.CallOption) (*tagme.RelatednessResponse, error)
}

type documentStore interface {
	SearchDocuments(ctx context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error)
	Health(ctx context.Context) error
}

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	client, err := tagme.New(cfg.TagMe.ClientConfig(log))
	if err != nil {
		log.Error("init tagme client", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	srv := &server{log: log, cfg: cfg, tm: client, es: esClient}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Timeout + 15*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type server struct {
	log *slog.Logger
	cfg *config.API
	tm  tagMe
	es  documentStore
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/documents", s.handleSearch)
	r.Post("/annotate", s.handleAnnotate)
	r.Post("/mentions", s.handleMentions)
	r.Post("/relatedness", s.handleRelatedness)
	return r
}

// requestID tags every request with a UUID unless the caller sent one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(middleware.RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type textRequest struct {
	Text     string `json:"text" validate:"required"`
	Lang     string `json:"lang" validate:"omitempty,oneof=en it de"`
	LongText *int   `json:"long_text" validate:"omitempty,min=0"`
}

type titlePair struct {
	A string `json:"a" validate:"required"`
	B string `json:"b" validate:"required"`
}

type idPair struct {
	A int `json:"a" validate:"gte=0"`
	B int `json:"b" validate:"gte=0"`
}

type relatednessRequest struct {
	Titles []titlePair `json:"titles" validate:"required_without=IDs,excluded_with=IDs,dive"`
	IDs    []idPair    `json:"ids" validate:"required_without=Titles,dive"`
	Lang   string      `json:"lang" validate:"omitempty,oneof=en it de"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.es.Health(ctx); err != nil {
		s.fail(w, r, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}

	opts := s.callOptions(r, req.Lang)
	if req.LongText != nil {
		opts = append(opts, tagme.WithLongText(*req.LongText))
	}

	resp, err := s.tm.Annotate(r.Context(), req.Text, opts...)
	if err != nil {
		s.fail(w, r, tagMeStatus(err), err)
		return
	}
	if resp == nil {
		s.fail(w, r, http.StatusBadGateway, errNoResult)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleMentions(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}

	resp, err := s.tm.FindMentions(r.Context(), req.Text, s.callOptions(r, req.Lang)...)
	if err != nil {
		s.fail(w, r, tagMeStatus(err), err)
		return
	}
	if resp == nil {
		s.fail(w, r, http.StatusBadGateway, errNoResult)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleRelatedness(w http.ResponseWriter, r *http.Request) {
	var req relatednessRequest
	if !s.decode(w, r, &req) {
		return
	}

	n := len(req.Titles) + len(req.IDs)
	if n == 0 {
		s.fail(w, r, http.StatusBadRequest, tagme.ErrNoPairs)
		return
	}
	if n > s.cfg.MaxRequestPairs {
		s.fail(w, r, http.StatusRequestEntityTooLarge,
			fmt.Errorf("%d pairs requested, at most %d allowed", n, s.cfg.MaxRequestPairs))
		return
	}

	opts := s.callOptions(r, req.Lang)

	var (
		resp *tagme.RelatednessResponse
		err  error
	)
	if len(req.Titles) > 0 {
		pairs := make([]tagme.TitlePair, 0, len(req.Titles))
		for _, p := range req.Titles {
			pairs = append(pairs, tagme.TitlePair{A: p.A, B: p.B})
		}
		resp, err = s.tm.RelatednessByTitle(r.Context(), pairs, opts...)
	} else {
		pairs := make([]tagme.IDPair, 0, len(req.IDs))
		for _, p := range req.IDs {
			pairs = append(pairs, tagme.IDPair{A: p.A, B: p.B})
		}
		resp, err = s.tm.RelatednessByID(r.Context(), pairs, opts...)
	}
	if err != nil {
		s.fail(w, r, tagMeStatus(err), err)
		return
	}
	if resp == nil {
		s.fail(w, r, http.StatusBadGateway, errNoResult)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	params := elasticsearch.SearchParams{
		Query:    strings.TrimSpace(q.Get("q")),
		Entities: parseCSV(q.Get("entities")),
		Source:   strings.TrimSpace(q.Get("source")),
		Lang:     strings.TrimSpace(q.Get("lang")),
		From:     clampInt(q.Get("from"), 0, 10_000),
		Size:     clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
		Sort:     strings.TrimSpace(q.Get("sort")),
		Start:    parseTime(q.Get("start")),
		End:      parseTime(q.Get("end")),
	}

	result, err := s.es.SearchDocuments(ctx, params)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return false
	}
	if err := validate.Struct(into); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return false
	}
	return true
}

// callOptions applies the per-request language and, when the caller sends
// one, its own gcube token.
func (s *server) callOptions(r *http.Request, lang string) []tagme.CallOption {
	var opts []tagme.CallOption
	if lang != "" {
		opts = append(opts, tagme.WithLang(lang))
	}
	if token := strings.TrimSpace(r.Header.Get(tokenHeader)); token != "" {
		opts = append(opts, tagme.WithToken(token))
	}
	return opts
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	id := middleware.GetReqID(r.Context())
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.log.Log(r.Context(), level, "request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("request_id", id),
		slog.Any("err", err),
	)
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: id})
}

func tagMeStatus(err error) int {
	switch {
	case errors.Is(err, tagme.ErrNoPairs):
		return http.StatusBadRequest
	case errors.Is(err, tagme.ErrMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, tagme.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	return nil
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
