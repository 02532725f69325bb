// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "errors"

var (
	// ErrMissingInput is returned when a store request lacks a reasoning
	// chain or validation proof.
	ErrMissingInput = errors.New("missing reasoning chain or validation proof")

	// ErrNotFound is returned when a capsule id is unknown.
	ErrNotFound = errors.New("capsule not found")

	// ErrCapabilityUnavailable marks a collaborator that is disabled, down,
	// or timed out. Callers switch to the documented fallback.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrCorrelationMiss is returned when no waiting party is registered
	// for a worker reply.
	ErrCorrelationMiss = errors.New("no waiting party registered")
)
