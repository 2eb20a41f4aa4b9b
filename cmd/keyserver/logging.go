package main

import (
	golog "log"
	"os"

	log "github.com/sirupsen/logrus"
)

// setupLogging applies the configured level and routes the standard library
// logger, used by net/http among others, through logrus. When c.LogPath is
// set, logrus appends there from now on and the returned file must be closed
// on exit; otherwise it is nil.
func setupLogging(c *config) (*os.File, error) {
	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}
	golog.SetFlags(0)
	golog.SetOutput(log.StandardLogger().WriterLevel(log.WarnLevel))
	if c.LogPath == "" {
		return nil, nil
	}
	f, err := os.OpenFile(c.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	log.WithField("pathname", c.LogPath).Info("Further log lines go to this file")
	log.SetOutput(f)
	return f, nil
}
