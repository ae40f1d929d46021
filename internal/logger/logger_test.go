package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/suite"
)

const (
	textInfoPattern  = `severity=INFO message="hello 42"`
	jsonInfoPattern  = `"severity":"INFO","message":"hello 42"`
	textWarnPattern  = `severity=WARNING message="watch out"`
	jsonErrorPattern = `"severity":"ERROR","message":"boom"`
)

type LoggerTestSuite struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func (t *LoggerTestSuite) redirect(format string, level slog.Level) *bytes.Buffer {
	buf := new(bytes.Buffer)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(buf, level, format, ""))
	return buf
}

func (t *LoggerTestSuite) TestTextInfo() {
	buf := t.redirect("text", LevelInfo)
	Infof("hello %d", 42)
	t.Regexp(regexp.MustCompile(textInfoPattern), buf.String())
}

func (t *LoggerTestSuite) TestJSONInfo() {
	buf := t.redirect("json", LevelInfo)
	Infof("hello %d", 42)
	t.Regexp(regexp.MustCompile(jsonInfoPattern), buf.String())
}

func (t *LoggerTestSuite) TestTextWarning() {
	buf := t.redirect("text", LevelInfo)
	Warnf("watch out")
	t.Regexp(regexp.MustCompile(textWarnPattern), buf.String())
}

func (t *LoggerTestSuite) TestJSONError() {
	buf := t.redirect("json", LevelInfo)
	Errorf("boom")
	t.Regexp(regexp.MustCompile(jsonErrorPattern), buf.String())
}

func (t *LoggerTestSuite) TestTraceSuppressedBelowDebugLevel() {
	buf := t.redirect("text", LevelInfo)
	Tracef("should not appear")
	t.Empty(buf.String())
}

func (t *LoggerTestSuite) TestTraceVisibleAtTraceLevel() {
	buf := t.redirect("text", LevelTrace)
	Tracef("visible")
	t.Contains(buf.String(), "severity=TRACE")
}
