// Package httputil holds the JSON response helpers and strict request
// decoding shared by the onboarding API handlers.
package httputil
