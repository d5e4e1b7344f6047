// Package voice tracks rendering voices against a polyphony ceiling and
// adapts that ceiling to measured render load.
//
// The Governor owns a fixed-capacity voice arena, assigns monotonic
// voice ids, and resolves note-on requests by priority: when the
// ceiling is reached the lowest-priority sounding voice is stolen, but
// only for a strictly higher-priority request. The LoadMonitor keeps a
// ring of recent per-buffer load ratios and converts threshold
// crossings with dwell-time hysteresis into reduce/restore actions that
// scale the ceiling and the DSP quality tier.
package voice
