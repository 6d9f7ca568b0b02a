// blobxfer - parallel chunked transfers to and from blob storage.
//
// Build with version information:
//
//	go build -ldflags "-X github.com/mediaflow/blobxfer/internal/version.Version=v1.0.0" ./cmd/blobxfer
package main

import (
	"os"

	"github.com/mediaflow/blobxfer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
