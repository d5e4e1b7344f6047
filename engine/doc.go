// Package engine is the real-time render core. It ties the voice
// governor, the granular stage and the reverb into a single Render call
// driven by the host audio callback.
//
// The render path never allocates, locks or performs I/O. Parameter
// structs cross from the control thread through single-producer
// single-consumer cells, note events through a lock-free queue, and
// telemetry flows back the same way. All control-plane changes take
// effect at the start of the next buffer, never mid-buffer.
package engine
