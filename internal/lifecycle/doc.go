// Package lifecycle keeps partition records in the metadata store and
// physical partitions in the vector backend in step.
//
// The two stores fail independently and share no transaction. Creation runs
// the backend call inside the relational transaction and relies on
// idempotent retries: a physical partition left behind by a rolled-back
// attempt is adopted by the next one, and a record whose physical partition
// disappeared is repaired by ReconcileAllPointCounts.
package lifecycle
