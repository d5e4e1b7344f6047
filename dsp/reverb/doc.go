// Package reverb implements a Schroeder delay-network reverberator.
//
// The topology is a pre-delay line feeding eight parallel feedback comb
// filters whose averaged output passes through four series allpass
// diffusers. Comb feedback is derived from the requested decay time so
// the impulse response reaches -60 dB at that time; the gains are
// clamped strictly below unity so the network is stable for any
// bounded input. A stereo pair is produced by reading the mono tail
// through a small fixed offset.
package reverb
