package main

import (
	"os"

	"github.com/lixenwraith/particle-engine/core"
)

const (
	logDir      = "logs"
	logFileName = "particle-engine.log"
	maxLogSize  = core.MaxLogSize
)

func setupLogging(debug bool) *os.File {
	return core.SetupLogging(logDir, logFileName, debug)
}
