package observability

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

func TestFieldConstructors(t *testing.T) {
	tests := []struct {
		field Field
		key   string
		value interface{}
	}{
		{String("file", "a.pdf"), "file", "a.pdf"},
		{Int("pages", 3), "pages", 3},
		{Int64("bytes", 1<<20), "bytes", int64(1 << 20)},
		{Duration("took", 2*time.Second), "took", "2s"},
	}
	for _, tt := range tests {
		if tt.field.Key() != tt.key {
			t.Errorf("expected key %q, got %q", tt.key, tt.field.Key())
		}
		if tt.field.Value() != tt.value {
			t.Errorf("key %s: expected %v, got %v", tt.key, tt.value, tt.field.Value())
		}
	}

	err := errors.New("boom")
	if Error("err", err).Value() != err {
		t.Error("error field must carry the original error")
	}
}

func TestLogrusAdapter(t *testing.T) {
	buf := &bytes.Buffer{}
	backend := logrus.New()
	backend.Out = buf
	backend.Formatter = &logrus.JSONFormatter{}
	backend.Level = logrus.DebugLevel

	log := NewLogrusLogger(backend).With(String("component", "analysis"))
	log.Info("report ready", Int("pages", 2))

	line := buf.String()
	if gjson.Get(line, "component").String() != "analysis" {
		t.Errorf("missing bound field: %s", line)
	}
	if gjson.Get(line, "pages").Int() != 2 {
		t.Errorf("missing call field: %s", line)
	}
	if gjson.Get(line, "msg").String() != "report ready" {
		t.Errorf("missing message: %s", line)
	}
}

func TestNopLogger(t *testing.T) {
	var log Logger = NopLogger{}
	log.Debug("ignored")
	if _, ok := log.With(String("k", "v")).(NopLogger); !ok {
		t.Error("With must stay a NopLogger")
	}
}
