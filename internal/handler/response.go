package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/service"
	"github.com/rkohli77/chatbot/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

type Meta struct {
	Total int `json:"total,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse hides internal error text behind a generic message for 5xx.
func errorResponse(statusCode int, err error, message string) Response {
	text := err.Error()
	if statusCode >= http.StatusInternalServerError {
		text = "internal server error"
	}
	return Response{
		Success: false,
		Error:   text,
		Message: message,
	}
}

const maxBodyBytes = 64 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func respondWithJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func respondWithError(w http.ResponseWriter, logger *zap.Logger, statusCode int, err error, message string) {
	if statusCode >= http.StatusInternalServerError {
		logger.Error("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", statusCode),
			util.String("message", message))
	} else {
		logger.Debug("HTTP client error",
			util.ErrorField(err),
			util.Int("status_code", statusCode))
	}
	respondWithJSON(w, logger, statusCode, errorResponse(statusCode, err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidRating):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrChatbotNotFound), errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
