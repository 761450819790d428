// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// A few settings can also be overridden with LIVESUB_* variables, and the
// command line options are parsed here so every binary shares them.
package config
