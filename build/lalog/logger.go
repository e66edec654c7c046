package lalog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Logger is our custom logger for the whole application
type Logger struct {
	*logrus.Logger
	Subsystem string
}

type Formatter struct {
	TimestampFormat string // default: "2006-01-02 15:04:05.000"
	DisableColors   bool
	Subsystem       string
}

func (l Logger) getFormatter() *Formatter {
	return &Formatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
		Subsystem:       l.Subsystem,
	}
}

// New creates a new logger with a standard format
func New(subsystem string) *Logger {
	logger := &Logger{logrus.New(), subsystem}
	logger.SetLevel(logrus.TraceLevel)
	logger.SetFormatter(logger.getFormatter())

	return logger
}

// DisableColors forces logrus to log without colors
func (l Logger) DisableColors() {
	formatter := l.getFormatter()
	formatter.DisableColors = true
	l.SetFormatter(formatter)
}

// SetLogFile sets logrus to write to the given file
func (l Logger) SetLogFile(file string) error {
	logFile, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return errors.Wrap(err, "could not open logfile")
	}
	writer := io.MultiWriter(os.Stdout, logFile)
	l.SetOutput(writer)
	return nil
}

// ToLogLevel takes in a string and converts it to a Logrus log level
func ToLogLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	case "fatal":
		return logrus.FatalLevel, nil
	case "panic":
		return logrus.FatalLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("%s is not a valid log level", s)
	}
}

// Format formats a log entry
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}

	timestampFormat := f.TimestampFormat
	if timestampFormat == "" {
		timestampFormat = "2006-01-02 15:04:05.000"
	}
	b.WriteString(entry.Time.Format(timestampFormat))

	level := strings.ToUpper(entry.Level.String())
	levelColor := getColorByLevel(entry.Level)
	if !f.DisableColors {
		b.WriteString(fmt.Sprintf("\x1b[%dm", levelColor))
	}

	b.WriteString(fmt.Sprintf(" [%s]", level[:4]))
	if !f.DisableColors {
		b.WriteString("\x1b[0m")
	}

	b.WriteString(fmt.Sprintf(" %s: ", f.Subsystem))

	b.WriteString(entry.Message)
	b.WriteString("\t\t")

	if !f.DisableColors {
		b.WriteString(fmt.Sprintf("\x1b[%dm", levelColor))
	}
	f.writeFields(b, entry)

	if !f.DisableColors {
		b.WriteString("\x1b[0m")
	}
	b.WriteByte('\n')

	return b.Bytes(), nil
}

func (f *Formatter) writeFields(b *bytes.Buffer, entry *logrus.Entry) {
	if len(entry.Data) != 0 {
		fields := make([]string, 0, len(entry.Data))
		for field := range entry.Data {
			fields = append(fields, field)
		}

		sort.Strings(fields)

		for _, field := range fields {
			fmt.Fprintf(b, "%s=%v ", field, entry.Data[field])
		}
	}
}

const (
	colorRed    = 31
	colorYellow = 33
	colorBlue   = 36
	colorGray   = 37
)

func getColorByLevel(level logrus.Level) int {
	switch level {
	case logrus.DebugLevel:
		return colorGray
	case logrus.WarnLevel:
		return colorYellow
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorRed
	default:
		return colorBlue
	}
}
