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

// Package coreerrors defines the error taxonomy shared by every
// component of the scheduler core, plus thin wrap/unwrap helpers over
// the standard errors package.
package coreerrors

import (
	"errors"
	"fmt"
)

// Wrap annotates err with message, or returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf annotates err with a formatted message, or returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is, As and Unwrap re-export the standard library so callers only need
// to import this package.
func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
func Unwrap(err error) error    { return errors.Unwrap(err) }
func New(message string) error  { return errors.New(message) }

// IllegalTransitionError is returned when an event cannot legally apply
// to a RunState's current state.
type IllegalTransitionError struct {
	Instance    string
	FromState   string
	EventType   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: instance %s cannot accept event %q from state %s", e.Instance, e.EventType, e.FromState)
}

// OptimisticConflictError is returned when an event's expectedCounter no
// longer matches the log's head for that instance.
type OptimisticConflictError struct {
	Instance        string
	ExpectedCounter int64
	ActualCounter   int64
}

func (e *OptimisticConflictError) Error() string {
	return fmt.Sprintf("optimistic conflict on %s: expected counter %d, log is at %d", e.Instance, e.ExpectedCounter, e.ActualCounter)
}

// StorageUnavailableError wraps a failure reaching the event log or
// document store.
type StorageUnavailableError struct {
	Store string
	Cause error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("%s store unavailable: %v", e.Store, e.Cause)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Cause }

// RunnerError wraps a failure from the container runner adapter.
type RunnerError struct {
	ExecutionID string
	Cause       error
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("runner error for execution %s: %v", e.ExecutionID, e.Cause)
}

func (e *RunnerError) Unwrap() error { return e.Cause }

// NotFoundError represents a missing resource (workflow, backfill, instance).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConflictError represents a request that collides with existing state
// (e.g. a backfill overlapping already-active instances).
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// ValidationError represents malformed or semantically invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
