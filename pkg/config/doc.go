// Package config loads service configuration.
//
// Values come from Default(), then an optional YAML file, then ACESSO_*
// environment variables (for example ACESSO_STORAGE_DRIVER,
// ACESSO_IDENTITY_JWT_SECRET, ACESSO_AUDIT_S3_BUCKET). Load validates the
// result before returning it.
package config
