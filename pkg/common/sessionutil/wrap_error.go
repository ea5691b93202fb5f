// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sessionutil

import (
	"errors"
	"fmt"
)

// Kind classifies an error without tying callers to a concrete error type,
// so orchestrator-level retry and propagation decisions can switch on it.
type Kind int

const (
	// KindInternal is an unexpected condition; it always propagates.
	KindInternal Kind = iota
	// KindValidation covers malformed requests, disallowed paths, oversized files,
	// unknown languages and missing entry files.
	KindValidation
	// KindRateLimited marks a per-socket rate window violation.
	KindRateLimited
	// KindQueueFull marks a saturated execution queue.
	KindQueueFull
	// KindTimeout covers queue wait, exec and acquisition timeouts.
	KindTimeout
	// KindEngineUnavailable marks a container engine refusal or timeout.
	KindEngineUnavailable
	// KindSubnetExhausted marks a fully-allocated subnet pool set.
	KindSubnetExhausted
	// KindResourceConflict marks an engine "already exists" response, handled
	// transparently by retry-and-verify at the call site.
	KindResourceConflict
	// KindCleanupFailed is recorded in metrics and never propagated to a caller.
	KindCleanupFailed
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "Validation"
	case KindRateLimited:
		return "RateLimited"
	case KindQueueFull:
		return "QueueFull"
	case KindTimeout:
		return "Timeout"
	case KindEngineUnavailable:
		return "EngineUnavailable"
	case KindSubnetExhausted:
		return "SubnetExhausted"
	case KindResourceConflict:
		return "ResourceConflict"
	case KindCleanupFailed:
		return "CleanupFailed"
	default:
		return "Internal"
	}
}

// KindError wraps an underlying error with a Kind so errors.As can recover it
// at the orchestrator boundary without the caller needing to know which
// package produced the failure.
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// Wrap annotates err with kind. A nil err yields a nil result so call sites
// can write `return Wrap(KindTimeout, err)` unconditionally.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}

	return &KindError{Kind: kind, Err: err}
}

// Wrapf is Wrap with fmt.Errorf-style message composition.
func Wrapf(kind Kind, format string, args ...any) error {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err was
// not produced via Wrap/Wrapf.
func KindOf(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}

	return KindInternal
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
