package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithLevels(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"", logrus.InfoLevel},
		{"DEBUG", logrus.DebugLevel},
		{" warning ", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"bogus", logrus.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewWith(&bytes.Buffer{}, tt.in, "").GetLevel(), tt.in)
	}
}

func TestNewWithJSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	l := NewWith(&buf, "info", "")
	l.WithField("document_id", "doc-1").Info("document indexed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "document indexed", line["msg"])
	assert.Equal(t, "doc-1", line["document_id"])
}

func TestNewWithText(t *testing.T) {
	var buf bytes.Buffer
	NewWith(&buf, "info", "text").Info("hello")
	assert.Contains(t, buf.String(), `msg=hello`)
}
