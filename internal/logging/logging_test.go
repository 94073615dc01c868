package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONLoggerCarriesFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: "trace", Format: "json"}, buf)
	WithFields(logger, map[string]any{"work_item_id": 42}).Info("claimed %s", "item")

	out := buf.String()
	assert.Contains(t, out, "claimed item")
	assert.Contains(t, out, "work_item_id")
}

func TestWithFieldsOnNilLogger(t *testing.T) {
	assert.NotNil(t, WithFields(nil, map[string]any{"a": 1}))
	assert.NotNil(t, Or(nil))
}
