package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/chunker"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
	"github.com/fyrsmithlabs/islandd/internal/scope"
	"github.com/fyrsmithlabs/islandd/internal/vectorstore"
)

// run is the state of one Sync call between Diff and Record.
type run struct {
	*Syncer
	src       Source
	kind      metadata.SourceKind
	partition *metadata.Partition
	records   map[string]metadata.IndexedFile
	res       *Result

	upserts []metadata.IndexedFile
	removed []string
	moves   []Rename
}

// partitionOf returns the partition holding a recorded file's chunks.
func (r *run) partitionOf(path string) string {
	if f, ok := r.records[path]; ok && f.PartitionName != "" {
		return f.PartitionName
	}
	return r.partition.Name
}

func (r *run) fail(path, op string, err error) {
	r.res.FileFailures++
	r.res.Failures = append(r.res.Failures, Failure{Path: path, Op: op, Err: err.Error()})
	filesProcessed.WithLabelValues("failed").Inc()
}

// apply deletes, then renames, then inserts. It stops at the first file
// boundary after ctx is done and returns ctx's error.
func (r *run) apply(ctx context.Context, c Changes) error {
	for _, path := range c.Deleted {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.deleteChunks(ctx, path) {
			r.removed = append(r.removed, path)
			r.res.Deleted++
			filesProcessed.WithLabelValues("deleted").Inc()
		}
	}

	// A modified file whose old chunks could not be removed is left for
	// the next run; inserting over them would leave stale tail chunks.
	var inserts []string
	modified := make(map[string]bool, len(c.Modified))
	for _, path := range c.Modified {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.deleteChunks(ctx, path) {
			inserts = append(inserts, path)
			modified[path] = true
		}
	}

	for _, mv := range c.Renamed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.rename(ctx, mv) {
			continue
		}
		// Fall back to re-indexing under the new path.
		if r.deleteChunks(ctx, mv.From) {
			r.removed = append(r.removed, mv.From)
			inserts = append(inserts, mv.To)
		}
	}

	// Created files may have leftovers of an earlier failed attempt under
	// other point ids. A file whose path could not be cleared waits for the
	// next run.
	for _, path := range c.Created {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.deleteChunks(ctx, path) {
			inserts = append(inserts, path)
		}
	}

	for _, path := range inserts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.index(ctx, path) {
			continue
		}
		if modified[path] {
			r.res.Modified++
			filesProcessed.WithLabelValues("modified").Inc()
		} else {
			r.res.Created++
			filesProcessed.WithLabelValues("created").Inc()
		}
	}
	return nil
}

// deleteChunks removes every chunk of a recorded path. A failure is logged
// and counted; the caller keeps the file's record so it is retried.
func (r *run) deleteChunks(ctx context.Context, path string) bool {
	name := r.partitionOf(path)
	cctx, cancel := r.bounded(ctx)
	defer cancel()

	dr, err := r.backend.DeleteByFilter(cctx, name,
		vectorstore.FileFilter(r.partition.ProjectID, r.partition.DatasetID, path))
	if err != nil {
		r.res.DeleteFailures++
		r.res.Failures = append(r.res.Failures, Failure{Path: path, Op: "delete", Err: err.Error()})
		deleteFailures.Inc()
		r.logger.Warn(ctx, "failed to delete chunks, will retry next sync",
			zap.String("path", path),
			zap.String("target_partition", name),
			zap.Error(err))
		return false
	}
	r.res.ChunksRemoved += dr.Count
	if !dr.Known {
		r.res.ChunksRemovedUnknown = true
	}
	return true
}

// rename re-points a file's chunks at its new path without re-embedding.
func (r *run) rename(ctx context.Context, mv Rename) bool {
	name := r.partitionOf(mv.From)
	cctx, cancel := r.bounded(ctx)
	defer cancel()

	_, err := vectorstore.UpdatePath(cctx, r.backend, name,
		vectorstore.FileFilter(r.partition.ProjectID, r.partition.DatasetID, mv.From), mv.To)
	if err != nil {
		r.logger.Warn(ctx, "rename failed, re-indexing under new path",
			zap.String("from", mv.From),
			zap.String("to", mv.To),
			zap.Error(err))
		return false
	}
	r.moves = append(r.moves, mv)
	r.res.Renamed++
	filesProcessed.WithLabelValues("renamed").Inc()
	return true
}

// index chunks, embeds and inserts one file.
func (r *run) index(ctx context.Context, path string) bool {
	content, err := r.src.Read(ctx, path)
	if err != nil {
		r.fail(path, "read", err)
		r.logger.Warn(ctx, "failed to read file", zap.String("path", path), zap.Error(err))
		return false
	}
	hash := HashContent(content)
	chunks := r.chunker.Chunk(path, string(content))

	lang := chunker.Language(path)
	for start := 0; start < len(chunks); start += r.batchSize {
		batch := chunks[start:min(start+r.batchSize, len(chunks))]
		if err := r.insertBatch(ctx, path, hash, lang, batch); err != nil {
			// Chunks of earlier batches stay in the backend until the
			// retried file is deleted by path on the next run.
			r.fail(path, err.op, err.err)
			r.logger.Warn(ctx, "failed to index file",
				zap.String("path", path),
				zap.String("op", err.op),
				zap.Error(err.err))
			return false
		}
	}

	r.upserts = append(r.upserts, metadata.IndexedFile{
		ProjectID:     r.partition.ProjectID,
		DatasetID:     r.partition.DatasetID,
		Path:          path,
		ContentHash:   hash,
		SizeBytes:     int64(len(content)),
		ChunkCount:    len(chunks),
		PartitionName: r.partition.Name,
		IndexedAt:     r.now(),
	})
	r.res.ChunksAdded += len(chunks)
	chunksIndexed.Add(float64(len(chunks)))
	return true
}

type opError struct {
	op  string
	err error
}

func (r *run) insertBatch(ctx context.Context, path, hash, lang string, batch []chunker.Chunk) *opError {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	if err := r.wait(ctx); err != nil {
		return &opError{"embed", err}
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return &opError{"embed", err}
	}
	if len(vecs) != len(batch) {
		return &opError{"embed", fmt.Errorf("got %d vectors for %d chunks", len(vecs), len(batch))}
	}

	points := make([]vectorstore.Point, len(batch))
	for i, c := range batch {
		points[i] = vectorstore.Point{
			ID:     scope.PointID(r.partition.DatasetID, path, r.res.RunID, c.Index).String(),
			Vector: vecs[i],
			Payload: vectorstore.Payload{
				ProjectID:   r.partition.ProjectID,
				DatasetID:   r.partition.DatasetID,
				Path:        path,
				StartLine:   c.StartLine,
				EndLine:     c.EndLine,
				Language:    lang,
				SourceKind:  string(r.kind),
				ContentHash: hash,
				ChunkIndex:  c.Index,
				Content:     c.Text,
			},
		}
		if r.sparse != nil {
			sv := r.sparse.EmbedSparse(c.Text)
			points[i].Sparse = &sv
		}
	}

	if err := r.wait(ctx); err != nil {
		return &opError{"insert", err}
	}
	cctx, cancel := r.bounded(ctx)
	defer cancel()
	if err := r.backend.Insert(cctx, r.partition.Name, points); err != nil {
		return &opError{"insert", err}
	}
	return nil
}

// record writes the run's outcome to the indexed-file table in one
// transaction.
func (r *run) record(ctx context.Context) error {
	if len(r.upserts) == 0 && len(r.removed) == 0 && len(r.moves) == 0 {
		return nil
	}
	now := r.now()
	return r.store.WithTx(ctx, func(tx *metadata.Tx) error {
		for _, path := range r.removed {
			if err := tx.DeleteIndexedFile(ctx, r.partition.ProjectID, r.partition.DatasetID, path); err != nil {
				return err
			}
		}
		for _, mv := range r.moves {
			if err := tx.MoveIndexedFile(ctx, r.partition.ProjectID, r.partition.DatasetID, mv.From, mv.To, now); err != nil {
				return err
			}
		}
		for _, f := range r.upserts {
			if err := tx.UpsertIndexedFile(ctx, f); err != nil {
				return err
			}
		}
		return nil
	})
}
