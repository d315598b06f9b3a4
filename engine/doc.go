// Package engine wires all Stride subsystems together: the workflow
// registry, the coordinator, the callback service, the extension
// registry, and the middleware chain.
//
// This package exists to break the import cycle: the root stride
// package defines Entity and the shared error vocabulary (imported by
// execution, callback, etc.) and so cannot import those packages back.
// The engine package sits above all subsystem packages and below the
// application layer.
package engine
