package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pv/gcode-timemachine-go/internal/storage"
	"github.com/pv/gcode-timemachine-go/pkg/config"
)

// Server реализует HTTP API управления проигрывателем.
type Server struct {
	manager  *Manager
	mux      *http.ServeMux
	streamer *StateStreamer
}

// NewServer создаёт HTTP сервер с зарегистрированными хендлерами.
func NewServer(manager *Manager, streamer *StateStreamer) *Server {
	s := &Server{
		manager:  manager,
		mux:      http.NewServeMux(),
		streamer: streamer,
	}
	s.routes()
	return s
}

// Handler возвращает корневой обработчик (для httptest и встраивания).
func (s *Server) Handler() http.Handler { return s.mux }

// Listen запускает сервер и блокируется до остановки.
func (s *Server) Listen(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	apiRoutes := []struct {
		path    string
		handler http.Handler
	}{
		{"/api/v1/program", http.HandlerFunc(s.handleProgram)},
		{"/api/v1/program/stats", http.HandlerFunc(s.handleStats)},
		{"/api/v1/state", http.HandlerFunc(s.handleState)},
		{"/api/v1/job/play", s.wrapSimpleWithLog("play", s.manager.Play)},
		{"/api/v1/job/pause", s.wrapSimpleWithLog("pause", s.manager.Pause)},
		{"/api/v1/job/toggle", s.wrapSimpleWithLog("toggle", s.manager.Toggle)},
		{"/api/v1/job/reset", s.wrapSimpleWithLog("reset", s.manager.Reset)},
		{"/api/v1/job/seek", http.HandlerFunc(s.handleSeek)},
		{"/api/v1/job/skip", http.HandlerFunc(s.handleSkip)},
		{"/api/v1/job/speed", http.HandlerFunc(s.handleSpeed)},
		{"/api/v1/library/programs", http.HandlerFunc(s.handleLibraryPrograms)},
		{"/api/v1/library/programs/", http.HandlerFunc(s.handleLibraryProgram)},
		{"/api/v1/library/pentypes", http.HandlerFunc(s.handlePenTypes)},
		{"/api/v1/ws/state", http.HandlerFunc(s.handleWSState)},
	}
	for _, route := range apiRoutes {
		s.mux.Handle(route.path, s.withCORS(route.handler))
	}
}

// handleProgram: POST загружает программу (текстом или по ID из библиотеки),
// GET возвращает агрегаты текущей.
func (s *Server) handleProgram(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req programRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var summary ProgramSummary
		var err error
		switch {
		case req.ID != "":
			log.Printf("[http] load program id=%s", req.ID)
			summary, err = s.manager.LoadFromLibrary(r.Context(), req.ID)
		case req.GCode != "":
			log.Printf("[http] load program name=%q size=%d", req.Name, len(req.GCode))
			summary, err = s.manager.LoadText(req.Name, req.GCode)
		default:
			writeError(w, http.StatusBadRequest, fmt.Errorf("either gcode or id is required"))
			return
		}
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case http.MethodGet:
		summary, err := s.manager.Summary()
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summary, err := s.manager.Summary()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.State())
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req seekRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	logDebugf("[http] command seek progress=%g", req.Progress)
	if err := s.manager.Seek(req.Progress); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.State())
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req skipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	logDebugf("[http] command skip delta_ms=%g", req.DeltaMS)
	if err := s.manager.Skip(req.DeltaMS); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.State())
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req speedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log.Printf("[http] command speed value=%g", req.Speed)
	if err := s.manager.SetSpeed(req.Speed); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLibraryPrograms: GET — каталог, POST — сохранить программу.
func (s *Server) handleLibraryPrograms(w http.ResponseWriter, r *http.Request) {
	if s.manager.Library() == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("program library is not configured"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		infos, err := s.manager.Library().Programs(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"programs": infos})
	case http.MethodPost:
		var req saveProgramRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		info, err := s.manager.SaveProgram(r.Context(), req.Name, req.GCode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		log.Printf("[http] program saved id=%s name=%q", info.ID, info.Name)
		writeJSON(w, http.StatusCreated, info)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleLibraryProgram отдаёт одну сохранённую программу вместе с текстом.
func (s *Server) handleLibraryProgram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.manager.Library() == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("program library is not configured"))
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/library/programs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid program id"))
		return
	}
	rec, err := s.manager.Library().Program(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         rec.ID,
		"name":       rec.Name,
		"gcode":      rec.GCode,
		"created_at": rec.CreatedAt,
	})
}

// handlePenTypes: GET — встроенные и сохранённые типы перьев, POST — новый тип.
func (s *Server) handlePenTypes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		types := make(map[string]config.PenType, len(s.manager.Tools().PenTypes))
		for id, pt := range s.manager.Tools().PenTypes {
			types[id] = pt
		}
		if lib := s.manager.Library(); lib != nil {
			saved, err := lib.PenTypes(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			for _, pt := range saved {
				types[pt.ID] = pt
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"pen_types": types})
	case http.MethodPost:
		if s.manager.Library() == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("program library is not configured"))
			return
		}
		var pt config.PenType
		if err := decodeJSON(r, &pt); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.manager.Library().SavePenType(r.Context(), pt); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		log.Printf("[http] pen type saved id=%s", pt.ID)
		writeJSON(w, http.StatusCreated, pt)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleWSState(w http.ResponseWriter, r *http.Request) {
	if s.streamer == nil {
		http.Error(w, "websocket streamer not configured", http.StatusServiceUnavailable)
		return
	}
	s.streamer.ServeWS(w, r)
}

func (s *Server) wrapSimpleWithLog(label string, fn func() error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		log.Printf("[http] command %s", label)
		if err := fn(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, s.manager.State())
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func statusForError(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

type programRequest struct {
	Name  string `json:"name,omitempty"`
	GCode string `json:"gcode,omitempty"`
	ID    string `json:"id,omitempty"`
}

type saveProgramRequest struct {
	Name  string `json:"name"`
	GCode string `json:"gcode"`
}

type seekRequest struct {
	Progress float64 `json:"progress"`
}

type skipRequest struct {
	DeltaMS float64 `json:"delta_ms"`
}

type speedRequest struct {
	Speed float64 `json:"speed"`
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
