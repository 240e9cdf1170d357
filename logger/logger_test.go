package logger

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"trace":   logrus.TraceLevel,
		"debug":   logrus.DebugLevel,
		"INFO":    logrus.InfoLevel,
		" warn ":  logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"invalid": logrus.InfoLevel,
		"":        logrus.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestNewWithOutputFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("warn", &buf)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	log := New("debug")
	assert.Same(t, log, OrDiscard(log))
	assert.NotPanics(t, func() { Discard().Error("dropped") })
}
