package lg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContextFallsBackToDefault(t *testing.T) {
	got := FromContext(context.Background())
	_, ok := got.(defaultLogger)
	assert.True(t, ok, "expected defaultLogger, got %T", got)
}

func TestAttachRoundTrip(t *testing.T) {
	ctx := Attach(context.Background(), Discard)
	assert.Equal(t, Discard, FromContext(ctx))
}

func TestOrDiscard(t *testing.T) {
	assert.Equal(t, Discard, OrDiscard(nil))

	l := defaultLogger{}
	assert.Equal(t, l, OrDiscard(l))
}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name   string
		fields []Field
		want   string
	}{
		{name: "no fields", want: ""},
		{name: "string and int", fields: []Field{String("host", "vm1"), Int("status", 1)}, want: `{"host": "vm1", "status": 1}`},
		{name: "error", fields: []Field{Err(errors.New("boom"))}, want: `{"error": "boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, flatten(tt.fields...))
		})
	}
}

func TestDefaultLoggerWithKeepsFields(t *testing.T) {
	l := defaultLogger{}.With(String("run", "1")).With(String("step", "a"))
	d, ok := l.(defaultLogger)
	assert.True(t, ok)
	assert.Len(t, d.fields, 2)
}
