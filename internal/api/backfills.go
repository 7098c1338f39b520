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

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/workflowcore/workflowcore/internal/backfill"
	"github.com/workflowcore/workflowcore/internal/httputil"
	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/internal/store"
	"github.com/workflowcore/workflowcore/pkg/coreerrors"
)

// BackfillInput is the POST /backfills request body.
type BackfillInput struct {
	Component         string            `json:"component"`
	Workflow          string            `json:"workflow"`
	Start             time.Time         `json:"start"`
	End               time.Time         `json:"end"`
	Concurrency       int               `json:"concurrency"`
	Description       string            `json:"description,omitempty"`
	Reverse           bool              `json:"reverse,omitempty"`
	TriggerParameters map[string]string `json:"triggerParameters,omitempty"`
}

// EditableBackfillInput is the PUT /backfills/{id} request body.
type EditableBackfillInput struct {
	ID          string `json:"id"`
	Concurrency *int   `json:"concurrency,omitempty"`
	Description *string `json:"description,omitempty"`
}

// BackfillPayload is a Backfill enriched with per-partition status when
// the caller asks for it via ?status=true.
type BackfillPayload struct {
	model.Backfill
	Statuses []backfill.InstanceStatus `json:"statuses,omitempty"`
}

// BackfillHandlers implements the /api/v3/backfills surface.
type BackfillHandlers struct {
	Engine    *backfill.Engine
	Backfills store.BackfillStore
	Logger    *slog.Logger
}

func (h *BackfillHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	workflowID := model.WorkflowId(q.Get("workflow"))
	showAll := q.Get("showAll") == "true"
	withStatus := q.Get("status") == "true"

	backfills, err := h.Backfills.ListBackfills(r.Context(), workflowID, showAll)
	if err != nil {
		httputil.WriteError(w, r, h.Logger, err)
		return
	}

	payloads := make([]BackfillPayload, 0, len(backfills))
	for _, b := range backfills {
		payload := BackfillPayload{Backfill: *b}
		if withStatus {
			statuses, err := h.Engine.Status(r.Context(), b.ID)
			if err != nil {
				httputil.WriteError(w, r, h.Logger, err)
				return
			}
			payload.Statuses = statuses
		}
		payloads = append(payloads, payload)
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"backfills": payloads})
}

func (h *BackfillHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var in BackfillInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, r, h.Logger, &coreerrors.ValidationError{Message: "malformed request body"})
		return
	}

	allowFuture, _ := strconv.ParseBool(r.URL.Query().Get("allowFuture"))

	b, err := h.Engine.Create(r.Context(), backfill.CreateInput{
		WorkflowID:        model.WorkflowId(in.Workflow),
		Start:             in.Start,
		End:               in.End,
		Concurrency:       in.Concurrency,
		Description:       in.Description,
		Reverse:           in.Reverse,
		TriggerParameters: in.TriggerParameters,
		AllowFuture:       allowFuture,
	})
	if err != nil {
		httputil.WriteError(w, r, h.Logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, b)
}

func (h *BackfillHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b, err := h.Backfills.GetBackfill(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, h.Logger, err)
		return
	}

	payload := BackfillPayload{Backfill: *b}
	if r.URL.Query().Get("status") == "true" {
		statuses, err := h.Engine.Status(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, r, h.Logger, err)
			return
		}
		payload.Statuses = statuses
	}

	httputil.WriteJSON(w, http.StatusOK, payload)
}

func (h *BackfillHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var in EditableBackfillInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, r, h.Logger, &coreerrors.ValidationError{Message: "malformed request body"})
		return
	}

	b, err := h.Engine.Update(r.Context(), id, in.Concurrency, in.Description)
	if err != nil {
		httputil.WriteError(w, r, h.Logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, b)
}

// Halt durably flips halted=true then best-effort halts active
// instances. A partial failure is reported as 207, total failure (every
// active instance failed to halt) as 500, full success as 200.
func (h *BackfillHandlers) Halt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := h.Engine.Halt(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, h.Logger, err)
		return
	}

	switch {
	case len(result.Failed) == 0:
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"attempted": result.Attempted})
	case len(result.Failed) == result.Attempted:
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"error":           "failed to halt any active instance",
			"failedInstances": result.Failed,
			"requestId":       httputil.RequestID(r.Context()),
		})
	default:
		httputil.WriteJSON(w, http.StatusMultiStatus, map[string]any{"failedInstances": result.Failed})
	}
}
