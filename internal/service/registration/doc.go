// Package registration implements account onboarding as a saga.
//
// A registration touches three systems with no shared commit protocol: the
// account store, the object storage gateway that hands out upload grants, and
// the verification service that tracks the analysis job. The Orchestrator runs
// the steps strictly in order (uniqueness check, account insert, grant
// issuance, verification thread, thread write-back) and records every
// completed step on a SagaState. When a step after the account insert fails,
// the Compensator walks the completed steps in reverse and undoes what it can.
//
// Collaborators are defined as interfaces in this package and injected at
// construction; adapters live in repository/postgres, storage, and verifier.
package registration
