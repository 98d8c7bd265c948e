// Command contentctl runs maintenance tasks against the content store:
// schema migrations, a full search reindex and one-off scheduled publication.
package main

import (
	"os"

	"github.com/content-store-api/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log := logger.New(logger.Options{Output: os.Stderr})
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
