package launcher

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogEventPublisher(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p := NewLogEventPublisher(logger)

	err := p.ReportLifecycleEvent(context.Background(), EventFailed, "start failed", map[string]string{
		"group": "tiles-a",
		"error": "boom",
	})
	assert.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "event=failed")
	assert.Contains(t, out, "group=tiles-a")
	assert.Contains(t, out, "error=boom")
}

func TestNoopEventPublisher(t *testing.T) {
	p := &NoopEventPublisher{}
	assert.NoError(t, p.ReportLifecycleEvent(context.Background(), EventReady, "ok", nil))
}
