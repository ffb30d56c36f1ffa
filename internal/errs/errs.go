// Package errs defines the error-kind taxonomy shared by the repository,
// builder, and xDS layers: Validation, Conflict, NotFound, Backend, Build,
// Transport, and ClientReject (NACK). Callers compare with errors.Is and
// wrap with fmt.Errorf("...: %w", errs.Conflict) to keep the kind
// discoverable through the chain.
package errs

import "errors"

var (
	// Validation means the caller's input violates an invariant. Surfaced
	// synchronously to the caller; never reaches the cache.
	Validation = errors.New("validation error")

	// Conflict means a uniqueness or foreign-key violation. Surfaced to the
	// caller; never retried.
	Conflict = errors.New("conflict")

	// NotFound means a referenced resource is missing.
	NotFound = errors.New("not found")

	// Backend means a transient database failure. Retried by watchers on
	// their next tick; surfaced to the caller at write time.
	Backend = errors.New("backend error")

	// Build means materialization produced an invalid protobuf for a
	// (team, type). The prior cache snapshot is retained.
	Build = errors.New("build error")

	// Transport means a gRPC stream error. The stream is torn down.
	Transport = errors.New("transport error")

	// ClientReject means Envoy NACKed a response. Persisted as an event;
	// the previous acked version remains authoritative.
	ClientReject = errors.New("client rejected update")
)

// Kind returns the taxonomy sentinel wrapped by err, or nil if err does not
// wrap one of the known kinds.
func Kind(err error) error {
	for _, k := range []error{Validation, Conflict, NotFound, Backend, Build, Transport, ClientReject} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
