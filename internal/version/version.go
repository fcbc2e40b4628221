// Package version carries build metadata, set at link time:
//
//	go build -ldflags "-X github.com/rickgao/chainstream/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/chainstream/internal/version.Commit=$(git rev-parse --short HEAD)" \
//	    ./cmd/chainstream
package version

import "runtime/debug"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent identifies the client in the WebSocket handshake. Without
// ldflags it falls back to the module version recorded by the go tool.
func UserAgent() string {
	v := Version
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
	}
	return "chainstream/" + v
}
