// Package config loads the demo's Postgres connection settings from the
// environment and turns them into ready-to-use pool configurations.
package config
