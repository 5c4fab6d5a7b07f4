package vaultfs

import (
	"github.com/sirupsen/logrus"
)

// logger receives the failures the lifecycle contract swallows: flush
// errors on best-effort Close paths. Durability still requires an explicit
// Flush; the log line exists so a failing disk is not completely silent.
var logger logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the package logger. Passing nil restores the logrus
// standard logger.
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		logger = logrus.StandardLogger()
		return
	}
	logger = l
}
