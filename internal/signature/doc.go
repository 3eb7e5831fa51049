// Package signature defines Sleuth's deduplicated failure-class entity,
// its guarded lifecycle state machine, the Diagnosis value it owns, and
// the Store persistence interface.
package signature
