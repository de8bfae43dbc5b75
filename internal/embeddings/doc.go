// Package embeddings turns chunk text into vectors.
//
// Two dense providers are available: FastEmbed runs ONNX models locally
// (cgo builds only) and TEI calls a text-embeddings-inference server over
// HTTP. NewProvider picks one from configuration and wraps it with batching
// and an optional rate limit.
//
// Hybrid partitions also need a sparse vector per chunk. HashingSparse
// produces one from hashed term frequencies without any model.
package embeddings
