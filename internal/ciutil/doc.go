// Package ciutil detects the execution environment and resolves the
// environment variables tests and tooling read outside of the main config.
package ciutil
