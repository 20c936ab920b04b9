package gateway

import "context"

// Transcriber turns audio chunks into transcript text. The real provider is
// external; MOCK_STT substitutes the mock.
type Transcriber interface {
	// Transcribe processes one chunk and returns the text recognized so far
	// and whether this chunk finalizes the utterance.
	Transcribe(ctx context.Context, sessionID string, chunk AudioChunkPayload) (text string, final bool, err error)
}

// MockTranscriber echoes the chunk's text field. Used when MOCK_STT=true and
// in tests; lets clients drive the text path through the audio message type.
type MockTranscriber struct{}

func (MockTranscriber) Transcribe(_ context.Context, _ string, chunk AudioChunkPayload) (string, bool, error) {
	return chunk.Text, chunk.Final, nil
}
