package infra

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
)

const ServiceName string = "riddle-bot"

type LogFileConfig struct {
	Enable     bool   `koanf:"enable"`
	Filename   string `koanf:"filename"`
	MaxSizeMB  int    `koanf:"max-size"`
	MaxBackups int    `koanf:"max-backups"`
	MaxAgeDays int    `koanf:"max-age"`
	Compress   bool   `koanf:"compress"`
}

var LogFileConfigDefault = LogFileConfig{
	Filename:   "riddle-bot.log",
	MaxSizeMB:  10,
	MaxBackups: 5,
	MaxAgeDays: 14,
	Compress:   true,
}

type LoggerConfig struct {
	Level  string        `koanf:"level"`
	Format string        `koanf:"format"`
	File   LogFileConfig `koanf:"file"`
}

var LoggerConfigDefault = LoggerConfig{
	Level:  "info",
	Format: "json",
	File:   LogFileConfigDefault,
}

func LoggerConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".level", LoggerConfigDefault.Level, "log level: debug, info, warn or error")
	f.String(prefix+".format", LoggerConfigDefault.Format, "log format: json or text")
	f.Bool(prefix+".file.enable", LoggerConfigDefault.File.Enable, "also write logs to a rotating file")
	f.String(prefix+".file.filename", LoggerConfigDefault.File.Filename, "log file path")
	f.Int(prefix+".file.max-size", LoggerConfigDefault.File.MaxSizeMB, "max size of a log file in megabytes before rotation")
	f.Int(prefix+".file.max-backups", LoggerConfigDefault.File.MaxBackups, "number of rotated log files to keep")
	f.Int(prefix+".file.max-age", LoggerConfigDefault.File.MaxAgeDays, "days to keep rotated log files")
	f.Bool(prefix+".file.compress", LoggerConfigDefault.File.Compress, "gzip rotated log files")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel, nil
	case "", "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger returns the process logger with the service field set. The
// returned closer flushes the rotating file, if one is configured.
func NewLogger(cfg LoggerConfig) (*logrus.Entry, io.Closer, error) {
	log := logrus.New()

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		log.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	log.SetLevel(level)

	var closer io.Closer = nopCloser{}
	if cfg.File.Enable {
		if cfg.File.Filename == "" {
			return nil, nil, fmt.Errorf("log file enabled without a filename")
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotator))
		closer = rotator
	} else {
		log.SetOutput(os.Stdout)
	}

	return log.WithField("service", ServiceName), closer, nil
}
