// Package httpapi exposes the ambassador's HTTP surface: session
// registration, tool listing/invocation, and the admin routes for health,
// restart, audit query, and catalog reload.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/ambassadorlog"
)

// envelope is the success response shape.
type envelope struct {
	OK         bool  `json:"ok"`
	Data       any   `json:"data,omitempty"`
	Pagination *page `json:"pagination,omitempty"`
}

type page struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// errorEnvelope is the error response shape.
type errorEnvelope struct {
	OK    bool      `json:"ok"`
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

func writeOKPaged(w http.ResponseWriter, data any, nextCursor string, hasMore bool) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data, Pagination: &page{NextCursor: nextCursor, HasMore: hasMore}})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := string(ambassadorerrors.TypeInternal)
	message := "internal error"

	if ae, ok := err.(*ambassadorerrors.Error); ok {
		status = ambassadorerrors.HTTPStatus(ae.Type)
		code = string(ae.Type)
		message = ae.Message
	} else {
		ambassadorlog.Errorw("unclassified error reached the HTTP surface", "error", err)
	}

	writeJSON(w, status, errorEnvelope{OK: false, Error: errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		ambassadorlog.Errorw("failed to encode HTTP response", "error", err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return ambassadorerrors.NewValidationError("request body is not valid JSON", err)
	}
	return nil
}
