package logging

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
)

// SourceFormatter wraps another formatter and reports the caller as a short
// `x_file_source="file.go:42"` field.
type SourceFormatter struct {
	Underlying logrus.Formatter
	// AddSpace appends a blank line after every entry, handy on a terminal.
	AddSpace bool
	// TrimNewline drops the trailing newline, used for log lines sent over the wire.
	TrimNewline bool
}

func (f *SourceFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	if entry.HasCaller() {
		entry.Data["x_file_source"] = fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}

	formatted, err := f.Underlying.Format(entry)
	if err != nil {
		return nil, err
	}

	switch {
	case f.TrimNewline:
		return bytes.TrimRight(formatted, "\n"), nil
	case f.AddSpace:
		return append(formatted, '\n'), nil
	}
	return formatted, nil
}

// hideCaller drops logrus' own func and file fields; x_file_source replaces them.
func hideCaller(*runtime.Frame) (string, string) {
	return "", ""
}
