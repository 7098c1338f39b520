// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httputil holds the small set of response helpers and request
// middleware shared by every HTTP handler: JSON encoding, error-to-status
// mapping, and the X-Request-Id correlation header.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/workflowcore/workflowcore/pkg/coreerrors"
)

type contextKey string

const requestIDKey contextKey = "request-id"

// RequestIDHeader is the header every response carries, echoing the
// inbound value or a freshly minted one.
const RequestIDHeader = "X-Request-Id"

// RequestID extracts the request id stashed by the RequestID middleware,
// or "" if none is present.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RequestIDMiddleware is middleware that echoes an inbound X-Request-Id or mints a
// fresh one (a UUID without dashes), and stashes it on the request context.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WriteJSON encodes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the JSON envelope every error reply uses.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// WriteError maps err to a status code via the coreerrors taxonomy and
// writes a sanitized JSON error body carrying the request id. Unmapped
// errors become a 500 whose reason never leaks the raw error string.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, reason := classify(err)
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("unhandled request error", "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
	}
	WriteJSON(w, status, errorResponse{Error: reason, RequestID: RequestID(r.Context())})
}

func classify(err error) (int, string) {
	var notFound *coreerrors.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound, notFound.Error()
	}
	var conflict *coreerrors.ConflictError
	if errors.As(err, &conflict) {
		return http.StatusConflict, conflict.Error()
	}
	var validation *coreerrors.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, validation.Error()
	}
	var illegal *coreerrors.IllegalTransitionError
	if errors.As(err, &illegal) {
		return http.StatusConflict, illegal.Error()
	}
	return http.StatusInternalServerError, "internal error, see request id for correlation"
}
