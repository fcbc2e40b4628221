// Package config loads chainstream configuration from YAML files.
//
// Environment variables in ${VAR} form are expanded before parsing. Field
// rules are declared as validator struct tags; cross-field rules live in
// Validate.
package config
