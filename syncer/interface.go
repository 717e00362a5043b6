package syncer

import (
	"context"

	"github.com/shardsyncio/go-shardsync/common/types"
)

//go:generate mockgen -typed -package=syncer -destination=./mocks.go -source=./interface.go

// Transport discovers and downloads checkpoint versions from remote servers.
// Implementations live in the transport package.
type Transport interface {
	// ListAvailable returns the names of the versions currently advertised,
	// mapped to their parsed version numbers.
	ListAvailable(ctx context.Context) (map[string]types.Version, error)

	// Fetch downloads the named version into dst and returns the path it
	// wrote. An empty path with a nil error means the transport declined to
	// fetch because the version is not fully distributed yet.
	Fetch(ctx context.Context, name, dst string) (string, error)
}
