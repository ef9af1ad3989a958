package ports

import "context"

// LogStreamClient is the external log/stream collaborator. The core only
// closes dangling streams during cleanup.
type LogStreamClient interface {
	CloseAllOpenStreamsWithPrefix(ctx context.Context, prefix string) error
}
