package logging

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"library_catalog/pkg/config"

	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// New builds the service logger. A nil out writes to stdout.
func New(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stdout
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}
	return log, nil
}

// Gorm routes gorm's statement log through logrus. Only slow queries and
// errors are reported, and missing records are not treated as errors.
func Gorm(log logrus.FieldLogger) gormlogger.Interface {
	level := gormlogger.Warn
	if l, ok := log.(*logrus.Logger); ok && l.IsLevelEnabled(logrus.TraceLevel) {
		level = gormlogger.Info
	}
	return &gormLogger{
		log:           log.WithField("component", "gorm"),
		level:         level,
		slowThreshold: 200 * time.Millisecond,
	}
}

type gormLogger struct {
	log           logrus.FieldLogger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gormlogger.ErrRecordNotFound):
		l.statement(elapsed, fc).WithError(err).Error("query failed")
	case l.slowThreshold != 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		l.statement(elapsed, fc).Warnf("slow query >= %v", l.slowThreshold)
	case l.level >= gormlogger.Info:
		l.statement(elapsed, fc).Trace("query")
	}
}

func (l *gormLogger) statement(elapsed time.Duration, fc func() (string, int64)) *logrus.Entry {
	sql, rows := fc()
	return l.log.WithFields(logrus.Fields{
		"source":  utils.FileWithLineNum(),
		"elapsed": elapsed.String(),
		"rows":    rows,
		"sql":     sql,
	})
}
