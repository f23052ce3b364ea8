package session

// EmbeddingContext reports whether the runtime is embedded by a
// trusted editor origin. Editing is a privilege granted by the host;
// when no context is available the answer is no.
type EmbeddingContext interface {
	IsTrustedEmbedding() bool
}

// StaticEmbedding is a fixed EmbeddingContext, mostly for tests and
// local preview.
type StaticEmbedding bool

func (s StaticEmbedding) IsTrustedEmbedding() bool { return bool(s) }

// trusted applies the fail-closed rule: a missing context is never
// trusted.
func trusted(ec EmbeddingContext) bool {
	return ec != nil && ec.IsTrustedEmbedding()
}
