// Package domain holds the onboarding vocabulary: registration requests,
// account records, upload grants and verification threads.
//
// Everything here is a value type. Methods are limited to pure derivations
// such as Normalize, Validate, ResourceKey and StatusFromRuns, so the saga,
// the Postgres store and the HTTP layer can share these types without
// importing each other.
package domain
