// Package service declares the contract satisfied by a network endpoint
// binding (URL, credentials) an Output may be attached to.
// Binding a service that already has an output detaches the previous
// binding.
package service

// Handle identifies a service in a caller-owned registry, mirroring
// encoder.Handle to avoid an Output<->Service ownership cycle.
type Handle int

// Service is implemented by a network endpoint an encoded Output can target.
type Service interface {
	Initialize(outputID string) error
	Activate() error
	Deactivate()

	URL() string
	Credentials() (user, pass string)
}

// Registry resolves handles to Service implementations and tracks which
// output currently owns each one, so that binding a service already bound
// elsewhere detaches the previous owner first.
type Registry interface {
	Lookup(h Handle) (Service, bool)
	// Bind associates h with outputID, returning the previously bound
	// output id (if any) so the caller can notify it that it was
	// detached.
	Bind(h Handle, outputID string) (previous string, hadPrevious bool)
	Unbind(h Handle)
}
