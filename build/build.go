// Package build manages logging and version information for the whole
// application.
package build

import (
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/lnaccounts/build/lalog"
)

var (
	logConfigLock    sync.Mutex
	subsystemLoggers = map[string]*lalog.Logger{}
)

// AddSubLogger creates a new sublogger that prepends `subsystem`
// to the logs
func AddSubLogger(subsystem string) *lalog.Logger {
	logConfigLock.Lock()
	defer logConfigLock.Unlock()

	logger := lalog.New(subsystem)
	subsystemLoggers[subsystem] = logger

	return logger
}

// SetLogLevel sets the log level for the given subsystem
func SetLogLevel(subsystem string, level logrus.Level) {
	logConfigLock.Lock()
	defer logConfigLock.Unlock()

	logger, ok := subsystemLoggers[subsystem]
	if !ok {
		return
	}

	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all registered subsystems
func SetLogLevels(level logrus.Level) {
	logConfigLock.Lock()
	defer logConfigLock.Unlock()

	for subsystem := range subsystemLoggers {
		subsystemLoggers[subsystem].SetLevel(level)
	}
}

// ToLogLevel takes in a string and converts it to a Logrus log level
func ToLogLevel(s string) (logrus.Level, error) {
	return lalog.ToLogLevel(s)
}

// DisableColors turns off colored output for all registered subsystems
func DisableColors() {
	logConfigLock.Lock()
	defer logConfigLock.Unlock()

	for subsystem := range subsystemLoggers {
		subsystemLoggers[subsystem].DisableColors()
	}
}

// SetLogDir makes all registered subsystems append to a log file in the
// given directory, in addition to stdout. An empty string is a no-op.
func SetLogDir(dir string) error {
	if dir == "" {
		return nil
	}

	logConfigLock.Lock()
	defer logConfigLock.Unlock()

	file := filepath.Join(dir, "lnaccounts.log")
	for subsystem := range subsystemLoggers {
		if err := subsystemLoggers[subsystem].SetLogFile(file); err != nil {
			return err
		}
	}

	return nil
}

// SubLoggers returns all currently registered subsystem loggers
func SubLoggers() map[string]*lalog.Logger {
	return subsystemLoggers
}
