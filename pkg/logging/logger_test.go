package logging

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	asserts := assert.New(t)
	asserts.Equal(LevelDebug, ParseLevel("DEBUG"))
	asserts.Equal(LevelWarning, ParseLevel("warn"))
	asserts.Equal(LevelError, ParseLevel(" error "))
	asserts.Equal(LevelInformational, ParseLevel("whatever"))
}

func TestNewLogger_Levels(t *testing.T) {
	asserts := assert.New(t)

	{
		buf := &bytes.Buffer{}
		l := NewLogger(LevelWarning, buf)
		l.Info("hidden %d", 1)
		l.Debug("hidden")
		asserts.Empty(buf.String())
		l.Warning("shown %s", "warn")
		asserts.Contains(buf.String(), "shown warn")
	}

	{
		buf := &bytes.Buffer{}
		l := NewLogger(LevelDebug, buf)
		l.Debug("debug line")
		asserts.Contains(buf.String(), "debug line")
		asserts.Contains(buf.String(), "logger_test.go")
	}

	{
		l := NewLogger(LevelError, &bytes.Buffer{})
		asserts.Panics(func() {
			l.Panic("boom")
		})
	}
}

func TestCopyWithPrefix(t *testing.T) {
	asserts := assert.New(t)
	buf := &bytes.Buffer{}
	l := NewLogger(LevelInformational, buf).CopyWithPrefix("[A]").CopyWithPrefix("[B]")
	l.Info("hello")
	asserts.Contains(buf.String(), " [A] [B] hello")
}

func TestContextHelpers(t *testing.T) {
	asserts := assert.New(t)

	{
		asserts.Equal(uuid.Nil, CorrelationID(context.Background()))
		asserts.NotNil(FromContext(context.Background()))
	}

	{
		buf := &bytes.Buffer{}
		cid := uuid.Must(uuid.NewV4())
		ctx, l := WithCorrelation(context.Background(), NewLogger(LevelInformational, buf), cid)
		asserts.Equal(cid, CorrelationID(ctx))
		FromContext(ctx).Info("in request")
		asserts.Contains(buf.String(), cid.String())
		asserts.NotNil(l)
	}
}

func TestRequest(t *testing.T) {
	asserts := assert.New(t)
	buf := &bytes.Buffer{}
	l := NewLogger(LevelInformational, buf)
	Request(l, 207, "PROPFIND", "127.0.0.1", "/dav/a", "failed", time.Now())
	asserts.Contains(buf.String(), "PROPFIND")
	asserts.Contains(buf.String(), "/dav/a")
	asserts.Contains(buf.String(), "failed")
}
