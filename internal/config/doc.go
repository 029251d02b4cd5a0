// Package config handles configuration loading, parsing, and validation
// from defaults, an optional YAML file and VIDGEN_-prefixed environment
// variables.
package config
