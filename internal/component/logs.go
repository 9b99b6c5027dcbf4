package component

import (
	"bytes"
	"encoding/json"
	"io"
)

type logSink struct {
	c *Component
}

// LogWriter returns a writer that republishes JSON log lines on the logs
// topic while logs_enabled is set. Lines are dropped otherwise.
func (c *Component) LogWriter() io.Writer {
	return logSink{c: c}
}

// Write never reports an error and never logs, so the logger cannot
// recurse into it.
func (s logSink) Write(p []byte) (int, error) {
	if !s.c.store.LogsEnabled() {
		return len(p), nil
	}

	line := bytes.TrimSpace(p)
	if len(line) == 0 || !json.Valid(line) {
		return len(p), nil
	}

	payload := make([]byte, len(line))
	copy(payload, line)
	_ = s.c.opts.Publisher.Publish(SuffixLogs, payload, false)

	return len(p), nil
}
