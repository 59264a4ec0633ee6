package config

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// LogWriter is the writer used for application, HTTP and database logs.
var LogWriter io.Writer = os.Stdout

// Log is the structured application logger.
var Log = newLogger(os.Stdout, false)

// LogFilePath returns the path to the backend log file.
func LogFilePath() string {
	return filepath.Join("logs", "nextcompete-api.log")
}

func newLogger(w io.Writer, jsonFormat bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	if jsonFormat {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// InitLogging prepares the log file and points the standard and structured loggers at it.
func InitLogging(release bool) (*os.File, io.Writer) {
	logPath := filepath.Dir(LogFilePath())
	if err := os.MkdirAll(logPath, os.ModePerm); err != nil {
		log.Printf("Warning: Failed to create logs directory: %v", err)
	}

	logFile, err := os.OpenFile(LogFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("Warning: Failed to open log file: %v", err)
		LogWriter = os.Stdout
		log.SetOutput(LogWriter)
		Log = newLogger(LogWriter, release)
		return nil, LogWriter
	}

	LogWriter = io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(LogWriter)
	Log = newLogger(LogWriter, release)
	return logFile, LogWriter
}
