// Package config loads the taprace server configuration from YAML.
//
// Values may reference environment variables with ${VAR}; LoadEnv can
// populate those from .env files first. Unset fields take the Default*
// constants, and Validate reports the first invalid field by its YAML path.
package config
