package errutil

import (
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/forktrace/forktrace/pkg/version"
)

// FailOn logs the error information (terminates the application)
func FailOn(err error) {
	if err != nil {
		stackData := debug.Stack()
		log.WithError(err).WithFields(log.Fields{
			"version": version.Current(),
			"stack":   string(stackData),
		}).Fatal("forktrace: failure")
	}
}

// WarnOn logs the error information as a warning
func WarnOn(err error) {
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"version": version.Current(),
		}).Warn("forktrace: warning")
	}
}

// FailWhen terminates the application with a message when the condition is true
func FailWhen(cond bool, msg string) {
	if cond {
		stackData := debug.Stack()
		log.WithFields(log.Fields{
			"version": version.Current(),
			"stack":   string(stackData),
		}).Fatal("forktrace: failure - ", msg)
	}
}
