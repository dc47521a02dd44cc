// Package faults defines the error taxonomy shared by the command channel,
// the distribution pipeline, and the playback scheduler. Components tag
// failures with one of the sentinel markers below so that retry policy and
// report wording can be decided far from where the error happened.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransientNetwork marks failures worth retrying on the backoff
	// schedule: connection resets, timeouts, 5xx responses.
	ErrTransientNetwork = errors.New("transient network failure")
	// ErrCorruptPayload marks content that can never become usable: failed
	// verification, failed extraction, or an origin that definitively
	// refused the fetch. Never retried.
	ErrCorruptPayload = errors.New("corrupt payload")
	// ErrProcessCrash marks an abnormal player exit. Retried up to the
	// restart cap, then fatal for the item.
	ErrProcessCrash = errors.New("player process crash")
	// ErrResourceBusy marks an operation deferred because the resource is
	// the active render target.
	ErrResourceBusy = errors.New("resource busy")
	// ErrConfig marks invalid configuration. Fatal at startup.
	ErrConfig = errors.New("configuration error")
	// ErrProtocol marks malformed or unrecognized remote input. Dropped and
	// reported; the channel stays connected.
	ErrProtocol = errors.New("protocol error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransientNetwork
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether the error should re-enter the backoff schedule.
// Corrupt payloads, protocol violations, and config errors are terminal;
// everything else is assumed transient.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCorruptPayload), errors.Is(err, ErrProtocol), errors.Is(err, ErrConfig):
		return false
	default:
		return true
	}
}

// Classification returns the taxonomy label used in state report error
// entries.
func Classification(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCorruptPayload):
		return "corrupt-payload"
	case errors.Is(err, ErrProcessCrash):
		return "process-crash"
	case errors.Is(err, ErrResourceBusy):
		return "resource-busy"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	default:
		return "transient-network"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "component failure"
	}
	return strings.Join(parts, ": ")
}
