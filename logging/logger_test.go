package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.viam.com/test"
)

func newBufferLogger(level Level) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return newLogger("buf", level, true, NewWriterAppender(buf)), buf
}

func TestConsoleFormatting(t *testing.T) {
	logger, buf := newBufferLogger(DEBUG)

	logger.Infow("voxel downsample", "before", 100, "after", 10)
	line := strings.TrimSuffix(buf.String(), "\n")
	parts := strings.Split(line, "\t")
	test.That(t, len(parts), test.ShouldEqual, 6)
	test.That(t, parts[1], test.ShouldEqual, "INFO")
	test.That(t, parts[2], test.ShouldEqual, "buf")
	test.That(t, parts[3], test.ShouldStartWith, "logging/logger_test.go:")
	test.That(t, parts[4], test.ShouldEqual, "voxel downsample")
	test.That(t, parts[5], test.ShouldEqual, `{"before":100,"after":10}`)
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(WARN)

	logger.Debug("dropped")
	logger.Info("dropped")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.Warnf("kept %d", 1)
	test.That(t, buf.String(), test.ShouldContainSubstring, "kept 1")

	buf.Reset()
	logger.SetLevel(DEBUG)
	logger.Debug("now kept")
	test.That(t, buf.String(), test.ShouldContainSubstring, "now kept")
}

func TestContextDebug(t *testing.T) {
	logger, buf := newBufferLogger(INFO)

	logger.CDebugw(context.Background(), "dropped")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	ctx := EnableDebugMode(context.Background(), "")
	test.That(t, IsDebugMode(ctx), test.ShouldBeTrue)
	test.That(t, len(DebugKey(ctx)), test.ShouldEqual, 6)

	ctx = EnableDebugMode(context.Background(), "frame-12")
	logger.CDebugw(ctx, "kept", "stage", "segment")
	test.That(t, buf.String(), test.ShouldContainSubstring, `{"stage":"segment","debug_key":"frame-12"}`)

	buf.Reset()
	logger.SetLevel(DEBUG)
	logger.CDebugw(context.Background(), "plain", "stage", "cluster")
	test.That(t, buf.String(), test.ShouldContainSubstring, `{"stage":"cluster"}`)
	test.That(t, buf.String(), test.ShouldNotContainSubstring, "debug_key")
}

func TestUnnamedLoggerColumns(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger("", INFO, true, NewWriterAppender(buf))
	logger.Info("calibrated")
	parts := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\t")
	test.That(t, len(parts), test.ShouldEqual, 4)
	test.That(t, parts[3], test.ShouldEqual, "calibrated")
}

func TestSubloggerNames(t *testing.T) {
	logger, buf := newBufferLogger(DEBUG)
	sub := logger.Sublogger("processor")
	sub.Info("hello")
	test.That(t, buf.String(), test.ShouldContainSubstring, "buf.processor")
	test.That(t, sub.GetLevel(), test.ShouldEqual, DEBUG)
}

func TestUnpairedKey(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Infow("msg", "lonely")
	entries := observed.All()
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].ContextMap()["lonely"], test.ShouldEqual, "unpaired log key")
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.out)
	}

	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, level.UnmarshalJSON([]byte(`"error"`)), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, ERROR)
	out, err := level.MarshalJSON()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, `"error"`)
}
