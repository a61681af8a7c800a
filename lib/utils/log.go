// Package utils contains small helpers shared by the frontend and the
// backend: operator logging, host key loading, public address discovery
// and backoff.
package utils

import (
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"github.com/snowzach/rotatefilehook"
)

// InitLogger configures the process-wide logrus logger: colored text on
// stderr, optional rotated file copy, debug level on request. Call once
// at process start before anything logs.
func InitLogger(logFile string, debug bool) error {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	if logFile == "" {
		return nil
	}
	hook, err := rotatefilehook.NewRotateFileHook(rotatefilehook.RotateFileConfig{
		Filename:   logFile,
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Level:      log.GetLevel(),
		Formatter: &log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   true,
		},
	})
	if err != nil {
		return trace.Wrap(err)
	}
	log.AddHook(hook)
	return nil
}
