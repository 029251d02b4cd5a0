package ciutil

import (
	"log/slog"
	"os"
)

// Environment variables read by this package.
const (
	// CI detection
	EnvCI            = "CI"
	EnvGitHubActions = "GITHUB_ACTIONS"
	EnvGitLabCI      = "GITLAB_CI"
	EnvJenkinsURL    = "JENKINS_URL"
	EnvCircleCI      = "CIRCLECI"

	// EnvTestDatabaseURL is the preferred integration test database.
	EnvTestDatabaseURL = "VIDGEN_TEST_DATABASE_URL"
	// EnvDatabaseURL is accepted as a fallback for EnvTestDatabaseURL.
	EnvDatabaseURL = "DATABASE_URL"
	// EnvTestIntegration asks integration tests to start their own containers.
	EnvTestIntegration = "TEST_INTEGRATION"
)

// IsCI reports whether the process runs under a CI provider.
func IsCI() bool {
	return os.Getenv(EnvCI) != "" ||
		os.Getenv(EnvGitHubActions) != "" ||
		os.Getenv(EnvGitLabCI) != "" ||
		os.Getenv(EnvJenkinsURL) != "" ||
		os.Getenv(EnvCircleCI) != ""
}

// GetEnvWithFallbacks returns the value of the first non-empty variable in
// envVars, or defaultValue. Using anything but the first name logs a warning;
// the value itself is never logged.
func GetEnvWithFallbacks(envVars []string, defaultValue string, logger *slog.Logger) string {
	for i, envVar := range envVars {
		if val := os.Getenv(envVar); val != "" {
			if i > 0 && logger != nil {
				logger.Warn("using fallback environment variable",
					slog.String("used_var", envVar),
					slog.String("preferred_var", envVars[0]))
			}
			return val
		}
	}
	return defaultValue
}

// TestDatabaseURL returns the database integration tests should use, or "".
func TestDatabaseURL(logger *slog.Logger) string {
	return GetEnvWithFallbacks([]string{EnvTestDatabaseURL, EnvDatabaseURL}, "", logger)
}

// IntegrationEnabled reports whether tests may start disposable containers.
func IntegrationEnabled() bool {
	return os.Getenv(EnvTestIntegration) != ""
}
