package logging

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// errUnpairedKey is logged, as its message, for a trailing key with no value.
var errUnpairedKey = errors.New("unpaired log key")

type logger struct {
	name      string
	level     AtomicLevel
	inUTC     bool
	appenders []Appender
}

func newLogger(name string, level Level, inUTC bool, appenders ...Appender) *logger {
	return &logger{name: name, level: NewAtomicLevelAt(level), inUTC: inUTC, appenders: appenders}
}

func (l *logger) AddAppender(appender Appender) {
	l.appenders = append(l.appenders, appender)
}

func (l *logger) SetLevel(level Level) {
	l.level.Set(level)
}

func (l *logger) GetLevel() Level {
	return l.level.Get()
}

// Sublogger shares the appenders of l but gets its own copy of the level.
func (l *logger) Sublogger(subname string) Logger {
	name := subname
	if l.name != "" {
		name = l.name + "." + subname
	}
	return newLogger(name, l.level.Get(), l.inUTC, l.appenders...)
}

func (l *logger) Sync() error {
	var err error
	for _, appender := range l.appenders {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

func (l *logger) enabled(level Level) bool {
	return level >= l.level.Get()
}

// emit hands one entry to every appender. It must be called directly from a public logging
// method so the caller frame lands in user code.
func (l *logger) emit(level Level, msg string, fields []zapcore.Field) {
	entry := zapcore.Entry{
		LoggerName: l.name,
		Level:      level.AsZap(),
		Message:    msg,
		Time:       time.Now(),
		Caller:     caller(3),
	}
	if l.inUTC {
		entry.Time = entry.Time.UTC()
	}
	for _, appender := range l.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprintln(os.Stderr, err) //nolint:errcheck
		}
	}
}

// fieldsOf pairs up alternating keys and values.
func fieldsOf(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.String(key, errUnpairedKey.Error()))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

func (l *logger) Debug(args ...interface{}) {
	if l.enabled(DEBUG) {
		l.emit(DEBUG, fmt.Sprint(args...), nil)
	}
}

func (l *logger) Debugf(template string, args ...interface{}) {
	if l.enabled(DEBUG) {
		l.emit(DEBUG, fmt.Sprintf(template, args...), nil)
	}
}

func (l *logger) Debugw(msg string, keysAndValues ...interface{}) {
	if l.enabled(DEBUG) {
		l.emit(DEBUG, msg, fieldsOf(keysAndValues))
	}
}

// CDebugw logs at debug level when the logger is at debug level or ctx was marked with
// EnableDebugMode. Entries let through by ctx carry its debug key.
func (l *logger) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if key := DebugKey(ctx); key != "" {
		l.emit(DEBUG, msg, append(fieldsOf(keysAndValues), zap.String(debugKeyField, key)))
		return
	}
	if l.enabled(DEBUG) {
		l.emit(DEBUG, msg, fieldsOf(keysAndValues))
	}
}

func (l *logger) Info(args ...interface{}) {
	if l.enabled(INFO) {
		l.emit(INFO, fmt.Sprint(args...), nil)
	}
}

func (l *logger) Infof(template string, args ...interface{}) {
	if l.enabled(INFO) {
		l.emit(INFO, fmt.Sprintf(template, args...), nil)
	}
}

func (l *logger) Infow(msg string, keysAndValues ...interface{}) {
	if l.enabled(INFO) {
		l.emit(INFO, msg, fieldsOf(keysAndValues))
	}
}

func (l *logger) Warn(args ...interface{}) {
	if l.enabled(WARN) {
		l.emit(WARN, fmt.Sprint(args...), nil)
	}
}

func (l *logger) Warnf(template string, args ...interface{}) {
	if l.enabled(WARN) {
		l.emit(WARN, fmt.Sprintf(template, args...), nil)
	}
}

func (l *logger) Warnw(msg string, keysAndValues ...interface{}) {
	if l.enabled(WARN) {
		l.emit(WARN, msg, fieldsOf(keysAndValues))
	}
}

func (l *logger) Error(args ...interface{}) {
	if l.enabled(ERROR) {
		l.emit(ERROR, fmt.Sprint(args...), nil)
	}
}

func (l *logger) Errorf(template string, args ...interface{}) {
	if l.enabled(ERROR) {
		l.emit(ERROR, fmt.Sprintf(template, args...), nil)
	}
}

func (l *logger) Errorw(msg string, keysAndValues ...interface{}) {
	if l.enabled(ERROR) {
		l.emit(ERROR, msg, fieldsOf(keysAndValues))
	}
}

// caller reports the file and line skip frames above it.
func caller(skip int) zapcore.EntryCaller {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return zapcore.EntryCaller{}
	}
	c := zapcore.EntryCaller{Defined: true, PC: pc, File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		c.Function = fn.Name()
	}
	return c
}
