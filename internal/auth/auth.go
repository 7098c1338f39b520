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

// Package auth wraps the HTTP surface with a bearer/API-key check
// against a configured whitelist.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/workflowcore/workflowcore/internal/httputil"
)

// Config controls whether the whitelist check runs and what it checks
// against.
type Config struct {
	Enabled   bool
	Whitelist []string
}

// Middleware enforces Config against every request except the health
// endpoint.
type Middleware struct {
	enabled   bool
	whitelist map[string]struct{}
}

// NewMiddleware builds a Middleware from cfg.
func NewMiddleware(cfg Config) *Middleware {
	whitelist := make(map[string]struct{}, len(cfg.Whitelist))
	for _, key := range cfg.Whitelist {
		whitelist[key] = struct{}{}
	}
	return &Middleware{enabled: cfg.Enabled, whitelist: whitelist}
}

// Wrap enforces authentication on next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled || r.URL.Path == "/api/v3/health" {
			next.ServeHTTP(w, r)
			return
		}

		key := extractKey(r)
		if key == "" || !m.allowed(key) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{
				"error":     "authentication required",
				"requestId": httputil.RequestID(r.Context()),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

// allowed reports whether key is in the whitelist, compared in constant
// time against every whitelisted key to avoid leaking list membership
// through timing.
func (m *Middleware) allowed(key string) bool {
	ok := false
	for candidate := range m.whitelist {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			ok = true
		}
	}
	return ok
}
