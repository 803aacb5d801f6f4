// Package config provides centralized configuration management for the
// StudyPilot runtime, loading typed settings from a JSON file with
// sensible defaults for every subsystem.
package config
