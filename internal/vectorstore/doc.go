// Package vectorstore stores chunk vectors in named partitions.
//
// A Backend is the physical store. Three implementations exist:
//   - chromem: embedded, persisted to a local directory (default)
//   - qdrant: external server over gRPC
//   - elasticsearch: external cluster over HTTP, dense_vector indices
//
// Every point carries a Payload identifying its project, dataset and file.
// Deletes and payload updates take a Filter of exact string matches; an
// empty filter is rejected so that a caller bug cannot wipe a partition.
//
// Backends differ in what they can report. DeleteByFilter and SetPayload
// return a DeleteResult whose Known flag is false when the backend cannot
// count affected points (qdrant). Callers treat that as success.
//
// # Usage
//
//	b, err := vectorstore.NewBackend(ctx, cfg.VectorStore, logger)
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	if err := b.CreatePartition(ctx, "isl_p_acme_1a2b3c4d", 384, false); err != nil {
//	    return err
//	}
//	res, err := b.DeleteByFilter(ctx, name, vectorstore.FileFilter(projectID, datasetID, "src/main.go"))
//
// # Resilience
//
// The remote backends retry transient failures (gRPC Unavailable, HTTP 429
// and 5xx) with exponential backoff and open a circuit breaker after
// repeated failures. Chromem quarantines corrupt collection directories on
// open instead of refusing to start.
package vectorstore
