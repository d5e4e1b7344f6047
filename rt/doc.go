// Package rt provides the lock-free single-producer/single-consumer
// primitives used at the render-thread boundary: parameter cells for
// latest-value control updates and a bounded queue for events and
// telemetry. Neither side ever blocks, locks or allocates on a hot
// path; both types are safe for exactly one producer goroutine and one
// consumer goroutine.
package rt
