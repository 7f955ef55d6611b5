package ai

import "context"

// StreamProvider is an optional interface. Providers may implement streaming chat.
// Each chunk is a delta; both channels are closed when streaming ends.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}
