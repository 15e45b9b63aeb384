// Package speech provides text-to-speech synthesis for conversation turns.
// Synthesized artifacts are mp3 files stored under the data directory and
// served by the delivery layer; providers return the artifact reference.
package speech

import (
	"context"
)

// Service is the speech synthesis service interface.
type Service interface {
	// Synthesize converts text to an audio artifact and returns its
	// reference (a filename resolvable by Storage). Empty text yields an
	// empty reference without error.
	Synthesize(ctx context.Context, text string, voice string) (string, error)
}

// maxInputLength bounds the text sent to synthesis providers.
const maxInputLength = 1000

func truncateInput(text string) string {
	if len(text) > maxInputLength {
		return text[:maxInputLength]
	}
	return text
}

// NoneService is a disabled synthesis backend: every turn commits text-only.
type NoneService struct{}

// Synthesize always returns an empty reference.
func (NoneService) Synthesize(context.Context, string, string) (string, error) {
	return "", nil
}
