// Package logger provides a small structured-logging facade over logrus,
// matching the way the rest of this module expects to receive a Log from a
// LogFactory rather than reaching for a global logger.
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const defaultLogLevel = logrus.InfoLevel

var levelMap = map[string]logrus.Level{
	"trace":   logrus.TraceLevel,
	"debug":   logrus.DebugLevel,
	"info":    logrus.InfoLevel,
	"warning": logrus.WarnLevel,
	"error":   logrus.ErrorLevel,
	"fatal":   logrus.FatalLevel,
	"panic":   logrus.PanicLevel,
}

// LogLevelConfig is a comma-separated "subsystem=level" list, e.g.
// "Scheduler=debug,Orchestrator=trace". Per-subsystem control matters here
// specifically because the orchestrator spawns one goroutine per Job Graph
// node and the scheduler fans Load() out one goroutine per endpoint: a
// single global level would either drown a build in per-node chatter or
// hide the one subsystem an operator actually wants to watch.
type LogLevelConfig string

// LogRegistry holds the configured log level per subsystem, parsed once
// from a LogLevelConfig. It has no mutable state after construction, so
// GetLogLevel is safe to call concurrently from the many goroutines that
// request a Log for their subsystem without any locking.
type LogRegistry struct {
	levelBySubsystem map[string]logrus.Level
}

// ListLogLevels returns a comma separated string listing valid log levels.
func ListLogLevels() string {
	str := ""
	for k := range levelMap {
		if str != "" {
			str += ", "
		}
		str += fmt.Sprintf("%q", k)
	}
	return str
}

func NewLogRegistry(config LogLevelConfig) (*LogRegistry, error) {
	r := &LogRegistry{levelBySubsystem: make(map[string]logrus.Level)}
	if config != "" {
		pairs := strings.Split(string(config), ",")
		for _, pair := range pairs {
			parts := strings.Split(pair, "=")
			if len(parts) != 2 {
				return nil, fmt.Errorf("error invalid log level format: %v", pair)
			}
			level, ok := levelMap[parts[1]]
			if !ok {
				return nil, fmt.Errorf("error invalid log level for %q: %v", parts[0], parts[1])
			}
			r.levelBySubsystem[parts[0]] = level
		}
	}
	return r, nil
}

// GetLogLevel returns the configured log level for the specified subsystem.
func (r *LogRegistry) GetLogLevel(subsystem string) logrus.Level {
	level, ok := r.levelBySubsystem[subsystem]
	if !ok {
		return defaultLogLevel
	}
	return level
}

// Log is the logging interface used throughout butido. Keeping it as an
// interface (rather than depending on *logrus.Entry directly) lets tests
// substitute NoOpLog without pulling logrus into every package.
type Log interface {
	WithField(name string, value interface{}) Log
	WithFields(fields Fields) Log
	Trace(args ...interface{})
	Tracef(msg string, args ...interface{})
	Debug(args ...interface{})
	Debugf(msg string, args ...interface{})
	Info(args ...interface{})
	Infof(msg string, args ...interface{})
	Warn(args ...interface{})
	Warnf(msg string, args ...interface{})
	Error(args ...interface{})
	Errorf(msg string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(msg string, args ...interface{})
	Panic(args ...interface{})
	Panicf(msg string, args ...interface{})
}

// Fields is a set of keys/values to include in a structured log message.
type Fields map[string]interface{}

// LogFactory produces a logger scoped to the named subsystem (e.g.
// "Orchestrator", "Scheduler").
type LogFactory func(subsystem string) Log

// LogFilePath names a file a LogFactory writes to.
type LogFilePath string

// LogrusLogger implements Log on top of a logrus.Entry.
type LogrusLogger struct {
	*logrus.Entry
}

func (l *LogrusLogger) WithField(name string, value interface{}) Log {
	return &LogrusLogger{Entry: l.Entry.WithField(name, value)}
}

func (l *LogrusLogger) WithFields(fields Fields) Log {
	return &LogrusLogger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// MakeLogrusLogFactoryStdOut returns a LogFactory that writes to stdout,
// using a human-readable formatter on a terminal and JSON otherwise.
func MakeLogrusLogFactoryStdOut(registry *LogRegistry) LogFactory {
	return func(subsystem string) Log {
		log := logrus.New()
		log.SetLevel(registry.GetLogLevel(subsystem))
		log.SetOutput(os.Stdout)
		if isatty.IsTerminal(os.Stdout.Fd()) {
			log.SetFormatter(&logrus.TextFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
				FullTimestamp:   true,
				DisableQuote:    true,
			})
		} else {
			log.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
			})
		}
		entry := log.WithFields(logrus.Fields{"system": subsystem})
		return &LogrusLogger{Entry: entry}
	}
}

// MakeLogrusLogFactoryToFile returns a LogFactory that writes plain
// timestamped lines to the given file, appending to it. Per-job
// `<log_dir>/<job-uuid>.log` files are not written through this factory;
// internal/buildlog handles those.
func MakeLogrusLogFactoryToFile(registry *LogRegistry, path LogFilePath) (LogFactory, error) {
	file, err := os.OpenFile(string(path), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening log file: %s", path)
	}
	return func(subsystem string) Log {
		log := logrus.New()
		log.SetLevel(registry.GetLogLevel(subsystem))
		log.SetOutput(file)
		log.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})
		entry := log.WithFields(logrus.Fields{"system": subsystem})
		return &LogrusLogger{Entry: entry}
	}, nil
}

// NoOpLog implements Log by doing nothing; useful in tests that don't care
// about log output.
type NoOpLog struct{}

func NewNoOpLog() *NoOpLog { return &NoOpLog{} }

func NoOpLogFactory(subsystem string) Log { return NewNoOpLog() }

func (l *NoOpLog) WithField(name string, value interface{}) Log { return l }
func (l *NoOpLog) WithFields(fields Fields) Log                 { return l }
func (l *NoOpLog) Trace(args ...interface{})                    {}
func (l *NoOpLog) Tracef(msg string, args ...interface{})       {}
func (l *NoOpLog) Debug(args ...interface{})                    {}
func (l *NoOpLog) Debugf(msg string, args ...interface{})       {}
func (l *NoOpLog) Info(args ...interface{})                     {}
func (l *NoOpLog) Infof(msg string, args ...interface{})        {}
func (l *NoOpLog) Warn(args ...interface{})                     {}
func (l *NoOpLog) Warnf(msg string, args ...interface{})        {}
func (l *NoOpLog) Error(args ...interface{})                    {}
func (l *NoOpLog) Errorf(msg string, args ...interface{})       {}
func (l *NoOpLog) Fatal(args ...interface{})                    {}
func (l *NoOpLog) Fatalf(msg string, args ...interface{})       {}
func (l *NoOpLog) Panic(args ...interface{})                    {}
func (l *NoOpLog) Panicf(msg string, args ...interface{})       {}
