// Package server exposes the pipeline state over HTTP: the MJPEG stream, the
// status record, manual snapshots and the saved capture files.
package server

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/service/lgr"
	"github.com/khaledhikmat/people-tpu/service/storage"
	"github.com/khaledhikmat/people-tpu/state"
)

const eventsLimit = 80

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type EventsResponse struct {
	Folder string   `json:"folder"`
	Events []string `json:"events"`
}

type Server struct {
	state    *state.State
	capturer *state.Capturer
	store    storage.IService
	router   *mux.Router
}

func New(st *state.State, capturer *state.Capturer, store storage.IService) *Server {
	s := &Server{
		state:    st,
		capturer: capturer,
		store:    store,
		router:   mux.NewRouter(),
	}

	s.router.Use(logRequests)
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/video", s.handleVideo).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet, http.MethodPost)
	s.router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/events.json", s.handleEventsJSON).Methods(http.MethodGet)
	s.router.PathPrefix("/out/").Handler(http.StripPrefix("/out/", http.FileServer(http.Dir(store.Folder())))).Methods(http.MethodGet)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexPage.Execute(w, nil); err != nil {
		lgr.Logger.Error("rendering index page", slog.Any("error", err))
	}
}

// handleVideo streams every published snapshot until the client goes away.
// It never touches the camera; a slow client skips frames.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", state.ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() {
		_ = rc.Flush()
	}
	flush()

	err := s.state.WriteStream(r.Context(), w, flush)
	lgr.Logger.Debug("video client detached",
		slog.String("remote", r.RemoteAddr),
		slog.Any("reason", err),
	)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, s.state.Status())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	name, err := s.capturer.Manual()
	if errors.Is(err, model.ErrNoFrame) {
		sendErrorResponse(w, "no_frame", err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		sendErrorResponse(w, "capture_failed", err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/out/"+name, http.StatusFound)
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	names, err := s.store.List(eventsLimit)
	if err != nil {
		sendErrorResponse(w, "list_failed", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := eventsPage.Execute(w, EventsResponse{Folder: s.store.Folder(), Events: names}); err != nil {
		lgr.Logger.Error("rendering events page", slog.Any("error", err))
	}
}

func (s *Server) handleEventsJSON(w http.ResponseWriter, _ *http.Request) {
	names, err := s.store.List(eventsLimit)
	if err != nil {
		sendErrorResponse(w, "list_failed", err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSON(w, http.StatusOK, EventsResponse{Folder: s.store.Folder(), Events: names})
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		lgr.Logger.Error("encoding response", slog.Any("error", err))
	}
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying flusher.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		lgr.Logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

var indexPage = template.Must(template.New("index").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>People Stream + Events</title></head>
<body>
<h2>People Stream + Events</h2>
<ul>
  <li><a href="/video">/video</a> (MJPEG)</li>
  <li><a href="/status">/status</a></li>
  <li><a href="/snapshot">/snapshot</a> (save now)</li>
  <li><a href="/events">/events</a></li>
</ul>
<img src="/video" style="max-width: 100%; height: auto;" />
</body></html>`))

var eventsPage = template.Must(template.New("events").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Events</title></head>
<body>
<h2>Events (saved images)</h2>
<p>Folder: <code>{{.Folder}}</code></p>
<p><a href="/">Back</a></p>
<ol>
{{range .Events}}<li><a href="/out/{{.}}">{{.}}</a></li>
{{else}}<li>(no images yet)</li>
{{end}}</ol>
</body></html>`))
