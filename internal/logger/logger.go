// Package logger configures structured logging for the trading engine.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields is an alias for logrus.Fields.
type Fields = logrus.Fields

// Options controls log level, format, and file rotation.
type Options struct {
	// Level is the minimum level ("debug", "info", "warn", "error").
	Level string

	// File enables rotated file output alongside stdout when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Text switches from JSON to human-readable output.
	Text bool
}

// New builds a configured logger. JSON output with RFC3339 timestamps is the
// default; file output rotates through lumberjack.
func New(opts Options) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if opts.Text {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	if opts.File != "" {
		rotor := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    defaultInt(opts.MaxSizeMB, 100),
			MaxBackups: defaultInt(opts.MaxBackups, 5),
			MaxAge:     defaultInt(opts.MaxAgeDays, 30),
			Compress:   opts.Compress,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotor))
	}

	return log
}

// WithComponent tags an entry with the subsystem that produced it.
func WithComponent(log *logrus.Logger, component string) *logrus.Entry {
	return log.WithField("component", component)
}

// Recorder receives notable entries for durable audit storage.
type Recorder interface {
	Record(level, component, message string, fields map[string]any)
}

// recordHook mirrors warning-and-above entries into a Recorder so operator
// audits survive log rotation.
type recordHook struct {
	rec Recorder
}

func (h *recordHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
	}
}

func (h *recordHook) Fire(entry *logrus.Entry) error {
	component, _ := entry.Data["component"].(string)
	fields := make(map[string]any, len(entry.Data))
	for k, v := range entry.Data {
		if k == "component" {
			continue
		}
		fields[k] = v
	}
	h.rec.Record(entry.Level.String(), component, entry.Message, fields)
	return nil
}

// AttachRecorder mirrors warning-and-above entries into rec.
func AttachRecorder(log *logrus.Logger, rec Recorder) {
	log.AddHook(&recordHook{rec: rec})
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
