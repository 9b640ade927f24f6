// Package config loads, normalizes, and validates videoxt configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies VIDEOXT_* environment overrides.
// The Config type centralizes every knob the daemon and CLI need, so the media
// root, staging area, cache capacities, and log routing are discovered in one
// pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
