package util

import (
	"io"
	"log/syslog"
	"os"

	log "github.com/sirupsen/logrus"
	lSyslog "github.com/sirupsen/logrus/hooks/syslog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigureLogging applies cfg to the standard logrus logger. The returned
// closer releases the log file, if any.
func ConfigureLogging(cfg LogConfig) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stderr, file))
		closer = file
	}

	if cfg.SyslogAddr != "" {
		hook, err := lSyslog.NewSyslogHook(cfg.SyslogNet, cfg.SyslogAddr, syslog.LOG_INFO, cfg.SyslogTag)
		if err != nil {
			log.WithError(err).Warn("Failed to create syslog hook")
		} else {
			log.AddHook(hook)
		}
	}

	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
