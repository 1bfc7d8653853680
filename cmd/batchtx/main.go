package main

import (
	"os"

	"batchtx/internal/logging"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		logging.Default().Error().Err(err).Msg("batchtx failed")
		os.Exit(1)
	}
}
