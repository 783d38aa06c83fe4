// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional YAML file. It provides type-safe
// access to broker, AI server, cloud provider and scheduling settings while
// keeping configuration details separate from business logic.
package config
