package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"clinicnotes/internal/auth"
	"clinicnotes/internal/domain"
)

var errBadRequest = errors.New("invalid request body")

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor сопоставляет ошибку сервиса с кодом HTTP
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrNoIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}

	switch domain.Kind(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindLocked:
		return http.StatusLocked
	case domain.KindConcurrentModification, domain.KindAlreadyInitialized:
		return http.StatusConflict
	case domain.KindInvalidPrecondition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	switch status {
	case http.StatusInternalServerError:
		log.Error().Err(err).Msg("request failed")
		resp.Error = "internal error"
	case http.StatusLocked:
		// клиент показывает это сообщение пользователю как есть
		resp.Error = domain.ErrNoteLocked.Error()
		resp.Kind = string(domain.KindLocked)
	case http.StatusUnauthorized, http.StatusBadRequest:
	default:
		resp.Kind = string(domain.Kind(err))
	}

	writeJSON(w, status, resp)
}

// decodeJSON разбирает тело запроса; пустое тело допустимо, если optional
func decodeJSON(r *http.Request, v interface{}, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return errBadRequest
	}

	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
