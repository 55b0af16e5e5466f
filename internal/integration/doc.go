// Package integration provides cross-package integration tests for Armada.
// These tests run fleets against a real state database and the HTTP surface
// to verify that components work correctly together across package boundaries.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
