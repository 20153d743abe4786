// Package config loads and validates the engine's timing configuration.
//
// The config file is YAML with integer-millisecond values; validation is
// delegated to an embedded CUE schema (schema.cue) which owns defaults,
// minimums, and closedness (unknown keys are rejected). The one required
// key is autosaveIntervalMs: persistence cadence is never defaulted, and
// its absence fails startup with MISSING_CONFIG.
//
// TimingConfig is immutable after Load. Components receive it by value or
// pointer at construction and never re-read it.
package config
