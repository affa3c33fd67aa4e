package cliconfig

import (
	"github.com/rs/zerolog"

	"github.com/qri-io/framestack/log"
)

// Logger returns a console logger on stderr at the given level.
func Logger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	return log.NewConsole(lvl).Zerolog(), nil
}
