// Package logflags maps the --log-output flag to the loggers used by
// the rest of the debugger.
package logflags

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	proc     = false
	bininfo  = false
	terminal = false
)

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Proc returns true if the proc package should log.
func Proc() bool {
	return proc
}

// ProcLogger returns a logger for the proc package.
func ProcLogger() *logrus.Entry {
	return makeLogger(proc, logrus.Fields{"layer": "proc"})
}

// BinInfo returns true if the bininfo package should log.
func BinInfo() bool {
	return bininfo
}

// BinInfoLogger returns a logger for the bininfo package.
func BinInfoLogger() *logrus.Entry {
	return makeLogger(bininfo, logrus.Fields{"layer": "bininfo"})
}

// Terminal returns true if the terminal package should log.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for the terminal package.
func TerminalLogger() *logrus.Entry {
	return makeLogger(terminal, logrus.Fields{"layer": "terminal"})
}

// Setup sets debugger logging according to the log and logstr command
// line flags.
func Setup(logFlag bool, logstr string) error {
	logrus.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	if !logFlag {
		logrus.SetLevel(logrus.WarnLevel)
		return nil
	}
	logrus.SetLevel(logrus.DebugLevel)
	if logstr == "" {
		logstr = "proc"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "proc":
			proc = true
		case "bininfo":
			bininfo = true
		case "terminal":
			terminal = true
		default:
			return errors.New("invalid log-output component: " + logcmd)
		}
	}
	return nil
}
