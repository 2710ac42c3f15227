package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

var NullLogger = &logrus.Logger{
	Out:       io.Discard,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.PanicLevel,
}

// NullEntry returns an entry that discards everything; components take a *logrus.Entry so tests pass this one.
func NullEntry() *logrus.Entry {
	return logrus.NewEntry(NullLogger)
}
