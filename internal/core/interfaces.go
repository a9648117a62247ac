// Package core defines the data model, collaborator interfaces and error taxonomy
// shared by every stage of the narration pipeline.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
// Download returns an error wrapping ErrObjectNotFound when the key is absent.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Ingestor fetches a document and extracts its narratable text.
// Implementations exist per content source; the pipeline depends only on this shape.
type Ingestor interface {
	Fetch(ctx context.Context, id DocumentID) (*RawContent, error)
	Parse(raw *RawContent) (PlainText, error)
}

// Synthesizer turns markup into audio. Transient failures wrap
// ErrSynthesisUnavailable, permanent ones wrap ErrSynthesis.
type Synthesizer interface {
	Synthesize(ctx context.Context, markup MarkupText, voice VoiceID) (*AudioArtifact, error)
}

// AudioCache is a content-addressed store of synthesized audio.
//
// Lookup never observes a partially written artifact. Insert is atomic with
// respect to concurrent lookups; concurrent inserts for the same key resolve to
// one complete artifact. Medium failures wrap ErrStorageUnavailable.
type AudioCache interface {
	Lookup(ctx context.Context, key CacheKey) (*AudioArtifact, bool, error)
	Insert(ctx context.Context, key CacheKey, artifact *AudioArtifact) error
}

// Evictor is implemented by caches that support explicit removal of an entry.
type Evictor interface {
	Evict(ctx context.Context, key CacheKey) error
}

// Sink persists a finished artifact for the caller and returns its location.
type Sink interface {
	Persist(ctx context.Context, item WorkItem, key CacheKey, artifact *AudioArtifact) (string, error)
}
