package logging

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// CommandLineFormatter prints only the message, followed by the error if one is attached.
// Used by the jobflow CLI where timestamps and levels are noise.
type CommandLineFormatter struct{}

func (f *CommandLineFormatter) Format(entry *log.Entry) ([]byte, error) {
	if err, ok := entry.Data[log.ErrorKey]; ok {
		return []byte(fmt.Sprintf("%s: %v\n", entry.Message, err)), nil
	}
	return []byte(fmt.Sprintf("%s\n", entry.Message)), nil
}
