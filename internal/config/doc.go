// Package config defines the service settings and loads them from defaults,
// an optional YAML file, and GRADEFLOW_* environment variables, in that
// order of precedence. Loaded values are validated before use.
package config
