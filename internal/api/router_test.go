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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/workflowcore/internal/auth"
	"github.com/workflowcore/workflowcore/internal/backfill"
	eventlogmem "github.com/workflowcore/workflowcore/internal/eventlog/memory"
	"github.com/workflowcore/workflowcore/internal/httputil"
	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/internal/statemanager"
	storemem "github.com/workflowcore/workflowcore/internal/store/memory"
)

func newTestRouter(t *testing.T) (*Router, *storemem.Store) {
	t.Helper()
	log := eventlogmem.New()
	st := storemem.New(10)
	mgr := statemanager.New(log, nil, statemanager.Config{Shards: 2, HandlerWorkers: 2})
	engine := backfill.New(st, st, log, mgr, nil)

	backfillHandlers := &BackfillHandlers{Engine: engine, Backfills: st}
	health := &HealthHandler{Storage: st, Version: "test"}
	router := NewRouter(backfillHandlers, health, auth.NewMiddleware(auth.Config{Enabled: false}), httputil.CORSConfig{}, nil, nil)
	return router, st
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v3/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestCreateAndGetBackfill(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, &model.Workflow{
		ID: "wf", Schedule: model.Schedule{Kind: model.ScheduleDays},
		Configuration: model.Configuration{DockerImage: "busybox"},
	}))

	body, _ := json.Marshal(BackfillInput{
		Workflow:    "wf",
		Start:       time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2020, 1, 4, 0, 0, 0, 0, time.UTC),
		Concurrency: 2,
	})

	req := httptest.NewRequest("POST", "/api/v3/backfills", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var created model.Backfill
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)

	getReq := httptest.NewRequest("GET", "/api/v3/backfills/"+created.ID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestCreateRejectsUnknownWorkflowWith404(t *testing.T) {
	router, _ := newTestRouter(t)
	body, _ := json.Marshal(BackfillInput{Workflow: "missing", Start: time.Now(), End: time.Now().Add(time.Hour)})
	req := httptest.NewRequest("POST", "/api/v3/backfills", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthRejectsWithoutKey(t *testing.T) {
	log := eventlogmem.New()
	st := storemem.New(10)
	mgr := statemanager.New(log, nil, statemanager.Config{Shards: 2, HandlerWorkers: 2})
	engine := backfill.New(st, st, log, mgr, nil)
	backfillHandlers := &BackfillHandlers{Engine: engine, Backfills: st}
	health := &HealthHandler{Storage: st, Version: "test"}
	router := NewRouter(backfillHandlers, health, auth.NewMiddleware(auth.Config{Enabled: true, Whitelist: []string{"secret"}}), httputil.CORSConfig{}, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v3/backfills", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
