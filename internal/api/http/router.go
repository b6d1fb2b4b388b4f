// Package http serves the service's REST surface: join tokens, transcripts,
// exam generation, recording control and the transcription websocket.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"conference-transcription-service/internal/exam"
	"conference-transcription-service/internal/transcript"
)

// examGenerator is satisfied by *exam.Generator.
type examGenerator interface {
	Generate(ctx context.Context, conversation string) ([]exam.Question, error)
}

// recordController is satisfied by *Recorder.
type recordController interface {
	Start(ctx context.Context, room, trackID, identity string) (string, error)
	Stop(ctx context.Context, egressID string) error
}

// Deps carries the router's collaborators. Nil Exam or Recorder disables the
// corresponding routes with 503 responses.
type Deps struct {
	Tokens        *TokenMinter
	Store         *transcript.Store
	Exam          examGenerator
	Recorder      recordController
	Transcription http.Handler
	Log           zerolog.Logger
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/token", d.handleToken)
		r.Get("/transcript", d.handleGetTranscript)
		r.Post("/transcript", d.handleSaveTranscript)
		r.Get("/exam", d.handleExam)
		r.Post("/record/start", d.handleRecordStart)
		r.Post("/record/stop", d.handleRecordStop)
		if d.Transcription != nil {
			r.Get("/transcription", d.Transcription.ServeHTTP)
		}
	})

	return r
}

func (d Deps) handleToken(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	room := r.URL.Query().Get("room")
	if identity == "" || room == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	token, err := d.Tokens.Mint(room, identity)
	if err != nil {
		d.Log.Error().Err(err).Str("room", room).Msg("token mint failed")
		writeError(w, http.StatusInternalServerError, "Failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (d Deps) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		writeError(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	doc, err := d.Store.Load(room)
	if err != nil {
		if errors.Is(err, transcript.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Transcript not found")
			return
		}
		d.Log.Error().Err(err).Str("room", room).Msg("transcript load failed")
		writeError(w, http.StatusInternalServerError, "Failed to read transcript")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcripts": doc.Transcripts})
}

func (d Deps) handleSaveTranscript(w http.ResponseWriter, r *http.Request) {
	var doc transcript.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if doc.Room == "" {
		writeError(w, http.StatusBadRequest, "Room name is required")
		return
	}

	if err := d.Store.Save(doc); err != nil {
		d.Log.Error().Err(err).Str("room", doc.Room).Msg("transcript save failed")
		writeError(w, http.StatusInternalServerError, "Failed to save transcript")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Transcript saved successfully",
		"filename": doc.Room + ".json",
	})
}

func (d Deps) handleExam(w http.ResponseWriter, r *http.Request) {
	if d.Exam == nil {
		writeError(w, http.StatusServiceUnavailable, "Exam generation is not configured")
		return
	}
	room := r.URL.Query().Get("room")
	if room == "" {
		writeError(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	doc, err := d.Store.Load(room)
	if err != nil {
		if errors.Is(err, transcript.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Transcript not found")
			return
		}
		d.Log.Error().Err(err).Str("room", room).Msg("transcript load failed")
		writeError(w, http.StatusInternalServerError, "Failed to read transcript")
		return
	}

	questions, err := d.Exam.Generate(r.Context(), exam.BuildConversation(doc.Transcripts))
	if err != nil {
		d.Log.Error().Err(err).Str("room", room).Msg("exam generation failed")
		writeError(w, http.StatusInternalServerError, "Failed to generate exam")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": questions})
}

type recordStartRequest struct {
	RoomName string `json:"roomName"`
	TrackID  string `json:"trackId"`
	Identity string `json:"identity"`
}

func (d Deps) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if d.Recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "Recording is not configured")
		return
	}
	var req recordStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RoomName == "" || req.TrackID == "" || req.Identity == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	egressID, err := d.Recorder.Start(r.Context(), req.RoomName, req.TrackID, req.Identity)
	if err != nil {
		d.Log.Error().Err(err).Str("room", req.RoomName).Msg("recording start failed")
		writeError(w, http.StatusInternalServerError, "Failed to start recording")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "Recording started",
		"egressId": egressID,
	})
}

type recordStopRequest struct {
	EgressID string `json:"egressId"`
}

func (d Deps) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if d.Recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "Recording is not configured")
		return
	}
	var req recordStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.EgressID == "" {
		writeError(w, http.StatusBadRequest, "Missing egressId")
		return
	}

	if err := d.Recorder.Stop(r.Context(), req.EgressID); err != nil {
		d.Log.Error().Err(err).Str("egressId", req.EgressID).Msg("recording stop failed")
		writeError(w, http.StatusInternalServerError, "Failed to stop recording")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Recording stopped"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
