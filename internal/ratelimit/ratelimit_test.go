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

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/workflowcore/internal/store/memory"
)

func TestWaitAllowsWithinBurst(t *testing.T) {
	s := memory.New(1000)
	l := New(s, 1000, 5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx))
	}
}

func TestRefreshAppliesStoredRate(t *testing.T) {
	s := memory.New(5)
	l := New(s, 1000, 10)

	require.NoError(t, l.Refresh(context.Background()))

	l.mu.RLock()
	limit := l.limiter.Limit()
	l.mu.RUnlock()
	assert.Equal(t, float64(5), float64(limit))
}
