package dialog

import "errors"

var (
	ErrProtocol          = errors.New("protocol error")
	ErrEmptyTranscription = errors.New("transcription returned empty text")
	ErrSTTFailed          = errors.New("speech-to-text failed")
	ErrLLMFailed          = errors.New("language model generation failed")
	ErrTTSFailed          = errors.New("text-to-speech synthesis failed")
	ErrNilProvider        = errors.New("required provider is nil")
	ErrStaleGeneration    = errors.New("work superseded by a newer generation")
	ErrArtifactNotFound   = errors.New("audio artifact not found or expired")
)

// ErrorKind classifies a failure per spec.md §7, independent of which
// provider raised it. The turn controller uses Kind, never the specific
// provider error type, to decide whether a failure is fatal to the session.
type ErrorKind string

const (
	KindProtocol          ErrorKind = "protocol"          // fatal to the session
	KindProviderTransient ErrorKind = "provider_transient" // non-fatal, surfaces as `error` marker
	KindProviderFatal     ErrorKind = "provider_fatal"     // non-recoverable, closes the session
	KindTimeout           ErrorKind = "timeout"            // behaves as provider_transient
	KindCancellation      ErrorKind = "cancellation"       // never surfaced as an error
	KindCacheMiss         ErrorKind = "cache_miss"         // requested artifact expired or never existed
)

// Fatal reports whether a DialogError of this kind should close the session.
func (k ErrorKind) Fatal() bool {
	return k == KindProtocol || k == KindProviderFatal
}

// DialogError wraps a provider or transport error with the taxonomy kind
// needed to decide fatality and the client-facing error marker (§4.9, §7).
type DialogError struct {
	Kind ErrorKind
	Err  error
}

func (e *DialogError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *DialogError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error) *DialogError {
	return &DialogError{Kind: kind, Err: err}
}
