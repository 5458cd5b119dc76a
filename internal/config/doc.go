// Package config loads the pipeline configuration from environment
// variables. Every knob has a default; Load fails only on values that
// cannot be parsed or that describe an unsupported mode.
package config
