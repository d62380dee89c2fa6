// Package api assembles the HTTP surface: it wires the stores, services,
// and handlers together, applies the shared middleware stack, and owns
// the main and health listeners.
package api
