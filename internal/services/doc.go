// Package services builds the islandd component graph from configuration.
//
// New opens the metadata store, the vector backend and the embedder, then
// wires the lifecycle manager, the syncer, the query router and the
// reconcile scheduler on top of them. StartWatchers adds the change
// notification sources. Both the daemon and the CLI build their components
// here so they agree on how configuration maps to behavior.
package services
