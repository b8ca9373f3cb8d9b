package app

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	"github.com/forktrace/forktrace/pkg/screen"
)

// logFormatter prefixes every line with "[forktrace] " and colours the
// level tag when stderr is a tty and colour is on.
type logFormatter struct{}

const logPrefix = "[forktrace] "

var (
	errorTag = color.New(color.FgRed, color.Bold)
	warnTag  = color.New(color.FgYellow, color.Bold)
	debugTag = color.New(color.FgCyan)
)

func (f *logFormatter) Format(entry *log.Entry) ([]byte, error) {
	var tag string
	switch entry.Level {
	case log.FatalLevel, log.PanicLevel, log.ErrorLevel:
		tag = errorTag.Sprint("error: ")
	case log.WarnLevel:
		tag = warnTag.Sprint("warning: ")
	case log.DebugLevel, log.TraceLevel:
		tag = debugTag.Sprint("debug: ")
	}

	msg := entry.Message
	if len(entry.Data) > 0 {
		var extra []string
		for k, v := range entry.Data {
			extra = append(extra, k+"="+toString(v))
		}
		msg += " {" + strings.Join(extra, " ") + "}"
	}

	var buf bytes.Buffer
	for _, line := range strings.Split(strings.TrimRight(msg, "\n"), "\n") {
		buf.WriteString(logPrefix)
		buf.WriteString(tag)
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// configureLogging wires up logrus per the CLI flags: routine messages are
// Info, --verbose lowers the floor to Debug, --debug to Trace, and
// --no-log raises it to Warn.
func configureLogging(verbose, debug, noLog bool) {
	log.SetFormatter(&logFormatter{})
	if !screen.StderrIsTerminal() {
		color.NoColor = true
	}
	switch {
	case debug:
		log.SetLevel(log.TraceLevel)
	case verbose:
		log.SetLevel(log.DebugLevel)
	case noLog:
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}
