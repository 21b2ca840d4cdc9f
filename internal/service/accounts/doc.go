// Package accounts serves registered accounts after onboarding: lookups,
// upload-complete notifications from object storage, and refreshing the
// verification status from the analysis service.
//
// The service layer depends on the Repository and RunLister interfaces
// defined in repository.go. It never imports net/http or database/sql
// directly.
package accounts
