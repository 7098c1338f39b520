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
	"context"
	"net/http"
	"time"

	"github.com/workflowcore/workflowcore/internal/httputil"
)

// TickSource reports the last time a background ticker completed a pass.
type TickSource interface {
	LastTick() time.Time
}

// Pinger checks storage connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness/readiness.
type HealthHandler struct {
	Scheduler TickSource
	Trigger   TickSource
	Storage   Pinger
	Version   string
}

type healthStatus struct {
	Status          string    `json:"status"`
	Version         string    `json:"version"`
	SchedulerTick   time.Time `json:"schedulerLastTick,omitempty"`
	TriggerTick     time.Time `json:"triggerLastTick,omitempty"`
	StorageHealthy  bool      `json:"storageHealthy"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{Status: "ok", Version: h.Version, StorageHealthy: true}

	if h.Scheduler != nil {
		status.SchedulerTick = h.Scheduler.LastTick()
	}
	if h.Trigger != nil {
		status.TriggerTick = h.Trigger.LastTick()
	}
	if h.Storage != nil {
		if err := h.Storage.Ping(r.Context()); err != nil {
			status.StorageHealthy = false
			status.Status = "degraded"
		}
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, status)
}
