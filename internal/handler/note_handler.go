package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"clinicnotes/internal/auth"
	"clinicnotes/internal/domain"
	"clinicnotes/internal/logger"
	"clinicnotes/internal/service"
)

type NoteHandler struct {
	notes *service.NoteService
	log   zerolog.Logger
}

func NewNoteHandler(notes *service.NoteService, log zerolog.Logger) *NoteHandler {
	return &NoteHandler{
		notes: notes,
		log:   logger.Component(log, "http"),
	}
}

// Routes регистрирует маршруты API заметок
func (h *NoteHandler) Routes(r chi.Router) {
	r.Use(RequireIdentity(h.log))

	r.Get("/cosign-requests/pending", h.PendingRequests)

	r.Route("/notes", func(r chi.Router) {
		r.Post("/", h.CreateNote)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetNote)

			r.Post("/versions", h.SaveNote)
			r.Get("/versions", h.GetHistory)
			r.Get("/versions/current", h.GetCurrentVersion)
			r.Get("/versions/compare", h.CompareVersions)
			r.Get("/versions/{versionId}", h.GetVersion)
			r.Post("/versions/{versionId}/revert", h.RevertToVersion)

			r.Get("/signatures", h.GetSignatures)
			r.Post("/signatures/{sigId}/invalidate", h.InvalidateSignature)
			r.Post("/sign", h.Sign)
			r.Post("/cosign", h.CoSign)
			r.Post("/unlock", h.Unlock)
			r.Post("/cosign-requests", h.RequestCoSignature)
			r.Post("/cosign-requests/{reqId}/reject", h.RejectCoSignatureRequest)

			r.Post("/autosave", h.StartTracking)
			r.Put("/autosave", h.RegisterChange)
			r.Get("/autosave", h.GetAutoSave)
			r.Post("/autosave/flush", h.ForceSave)
			r.Delete("/autosave", h.StopTracking)
		})
	})
}

func actorOf(r *http.Request) domain.Actor {
	actor, _ := auth.ActorFrom(r.Context())
	return actor
}

type createNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// CreateNote создаёт заметку с исходной версией
func (h *NoteHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req createNoteRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, h.log, err)
		return
	}

	note, err := h.notes.CreateNote(r.Context(), service.CreateNoteInput{
		Title:   req.Title,
		Content: req.Content,
		Author:  actorOf(r),
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (h *NoteHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.notes.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

type saveNoteRequest struct {
	Title            string `json:"title"`
	Content          string `json:"content"`
	Reason           string `json:"reason"`
	ExpectedRevision int64  `json:"expected_revision"`
	SignOnSave       bool   `json:"sign_on_save"`
}

// SaveNote фиксирует явное сохранение и при необходимости подписывает заметку
func (h *NoteHandler) SaveNote(w http.ResponseWriter, r *http.Request) {
	var req saveNoteRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, h.log, err)
		return
	}

	result, err := h.notes.SaveNote(r.Context(), service.SaveNoteInput{
		NoteID:           chi.URLParam(r, "id"),
		Title:            req.Title,
		Content:          req.Content,
		Author:           actorOf(r),
		Reason:           req.Reason,
		ExpectedRevision: req.ExpectedRevision,
		SignOnSave:       req.SignOnSave,
		IPAddress:        auth.ClientIP(r),
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *NoteHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	versions, err := h.notes.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *NoteHandler) GetCurrentVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.notes.CurrentVersion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (h *NoteHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.notes.Version(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "versionId"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (h *NoteHandler) CompareVersions(w http.ResponseWriter, r *http.Request) {
	a, b := r.URL.Query().Get("a"), r.URL.Query().Get("b")
	if a == "" || b == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query parameters a and b are required"})
		return
	}

	diff, err := h.notes.CompareVersions(r.Context(), chi.URLParam(r, "id"), a, b)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

type revertRequest struct {
	ExpectedRevision int64 `json:"expected_revision"`
}

func (h *NoteHandler) RevertToVersion(w http.ResponseWriter, r *http.Request) {
	var req revertRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, h.log, err)
		return
	}

	version, err := h.notes.RevertToVersion(r.Context(), service.RevertInput{
		NoteID:           chi.URLParam(r, "id"),
		VersionID:        chi.URLParam(r, "versionId"),
		Actor:            actorOf(r),
		ExpectedRevision: req.ExpectedRevision,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

func (h *NoteHandler) GetSignatures(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.notes.Signatures(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

// Sign ставит основную подпись от имени вызывающего
func (h *NoteHandler) Sign(w http.ResponseWriter, r *http.Request) {
	result, err := h.notes.Sign(r.Context(), chi.URLParam(r, "id"), actorOf(r), auth.ClientIP(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *NoteHandler) CoSign(w http.ResponseWriter, r *http.Request) {
	result, err := h.notes.CoSign(r.Context(), chi.URLParam(r, "id"), actorOf(r), auth.ClientIP(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// Unlock открывает подписанную заметку; причина обязательна
func (h *NoteHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, h.log, err)
		return
	}

	note, err := h.notes.Unlock(r.Context(), chi.URLParam(r, "id"), actorOf(r), req.Reason)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *NoteHandler) InvalidateSignature(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, h.log, err)
		return
	}

	note, err := h.notes.InvalidateSignature(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "sigId"), actorOf(r), req.Reason)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

type coSignRequest struct {
	ToUserID   string `json:"to_user_id"`
	ToUserName string `json:"to_user_name"`
	Message    string `json:"message"`
}

func (h *NoteHandler) RequestCoSignature(w http.ResponseWriter, r *http.Request) {
	var req coSignRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, h.log, err)
		return
	}

	request, err := h.notes.RequestCoSignature(r.Context(), service.RequestInput{
		NoteID:  chi.URLParam(r, "id"),
		From:    actorOf(r),
		To:      domain.Actor{ID: req.ToUserID, Name: req.ToUserName},
		Message: req.Message,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

func (h *NoteHandler) RejectCoSignatureRequest(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, h.log, err)
		return
	}

	err := h.notes.RejectCoSignatureRequest(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "reqId"), actorOf(r), req.Reason)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PendingRequests возвращает ожидающие запросы на соподпись для вызывающего
func (h *NoteHandler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.notes.PendingRequests(r.Context(), actorOf(r).ID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if requests == nil {
		requests = []domain.SignatureRequest{}
	}
	writeJSON(w, http.StatusOK, requests)
}

type autoSaveRequest struct {
	Content string `json:"content"`
	Title   string `json:"title"`
}

func (h *NoteHandler) StartTracking(w http.ResponseWriter, r *http.Request) {
	var req autoSaveRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.notes.StartTracking(r.Context(), chi.URLParam(r, "id"), req.Content, req.Title, actorOf(r)); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RegisterChange принимает очередное состояние редактора
func (h *NoteHandler) RegisterChange(w http.ResponseWriter, r *http.Request) {
	var req autoSaveRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.notes.RegisterChange(r.Context(), chi.URLParam(r, "id"), req.Content, req.Title, actorOf(r)); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *NoteHandler) GetAutoSave(w http.ResponseWriter, r *http.Request) {
	state, err := h.notes.GetAutoSave(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *NoteHandler) ForceSave(w http.ResponseWriter, r *http.Request) {
	saved, err := h.notes.ForceSave(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": saved})
}

func (h *NoteHandler) StopTracking(w http.ResponseWriter, r *http.Request) {
	h.notes.StopTracking(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}
