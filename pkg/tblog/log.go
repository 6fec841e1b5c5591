// Package tblog is the leveled logger used throughout the textboard
// server and client. The surface mirrors minimega's minilog (level
// constants, Debug/Info/Warn/Error/Fatal plus f/ln variants, line
// filters) so callers never see a third-party type; the
// implementation underneath is a logrus.Logger.
package tblog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "FATAL"
	}
}

var levelToLogrus = map[Level]logrus.Level{
	DEBUG: logrus.DebugLevel,
	INFO:  logrus.InfoLevel,
	WARN:  logrus.WarnLevel,
	ERROR: logrus.ErrorLevel,
	FATAL: logrus.FatalLevel,
}

var (
	mu      sync.Mutex
	backend = logrus.New()
	filters []string
)

func init() {
	backend.SetOutput(os.Stderr)
	backend.SetLevel(logrus.InfoLevel)
	backend.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel sets the minimum level that will be emitted.
func SetLevel(l Level) {
	backend.SetLevel(levelToLogrus[l])
}

// SetOutput redirects log output, e.g. to a file opened at startup.
func SetOutput(w io.Writer) {
	backend.SetOutput(w)
}

// AddFilter drops any log line containing the given substring. Matches
// minilog's filter mechanism used to silence noisy subsystems.
func AddFilter(substr string) {
	mu.Lock()
	defer mu.Unlock()
	filters = append(filters, substr)
}

func filtered(msg string) bool {
	mu.Lock()
	defer mu.Unlock()
	for _, f := range filters {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}

func emit(l Level, msg string) {
	if filtered(msg) {
		return
	}
	entry := backend.WithField("level", l.String())
	switch l {
	case DEBUG:
		entry.Debug(msg)
	case INFO:
		entry.Info(msg)
	case WARN:
		entry.Warn(msg)
	case ERROR:
		entry.Error(msg)
	default:
		entry.Fatal(msg)
	}
}

func Debug(v ...interface{})                 { emit(DEBUG, fmt.Sprint(v...)) }
func Debugln(v ...interface{})               { emit(DEBUG, fmt.Sprintln(v...)) }
func Debugf(format string, v ...interface{}) { emit(DEBUG, fmt.Sprintf(format, v...)) }

func Info(v ...interface{})                 { emit(INFO, fmt.Sprint(v...)) }
func Infoln(v ...interface{})               { emit(INFO, fmt.Sprintln(v...)) }
func Infof(format string, v ...interface{}) { emit(INFO, fmt.Sprintf(format, v...)) }

func Warn(v ...interface{})                 { emit(WARN, fmt.Sprint(v...)) }
func Warnln(v ...interface{})               { emit(WARN, fmt.Sprintln(v...)) }
func Warnf(format string, v ...interface{}) { emit(WARN, fmt.Sprintf(format, v...)) }

func Error(v ...interface{})                 { emit(ERROR, fmt.Sprint(v...)) }
func Errorln(v ...interface{})               { emit(ERROR, fmt.Sprintln(v...)) }
func Errorf(format string, v ...interface{}) { emit(ERROR, fmt.Sprintf(format, v...)) }

// Fatal logs at FATAL and terminates the process, matching minilog's
// convention of reserving Fatal for startup failures only.
func Fatal(v ...interface{})                 { emit(FATAL, fmt.Sprint(v...)); os.Exit(1) }
func Fatalln(v ...interface{})               { emit(FATAL, fmt.Sprintln(v...)); os.Exit(1) }
func Fatalf(format string, v ...interface{}) { emit(FATAL, fmt.Sprintf(format, v...)); os.Exit(1) }
