package main

import (
	"fmt"
	stdslog "log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/picksync"
	picklogrus "github.com/unkn0wn-root/picksync/log/logrus"
	pickslog "github.com/unkn0wn-root/picksync/log/slog"
	pickzap "github.com/unkn0wn-root/picksync/log/zap"
)

// newLogger builds the cache logger of the given kind. The returned slog
// logger writes at the same level and backs the event hooks. flush must be
// called before exit.
func newLogger(kind, level string) (picksync.Logger, *stdslog.Logger, func(), error) {
	var sl stdslog.Level
	if err := sl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, nil, fmt.Errorf("log level %q: %w", level, err)
	}
	slogger := stdslog.New(stdslog.NewTextHandler(os.Stderr, &stdslog.HandlerOptions{Level: sl}))

	switch kind {
	case "zap":
		zl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("log level %q: %w", level, err)
		}
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(zl)
		l, err := zcfg.Build()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build zap logger: %w", err)
		}
		return pickzap.New(l), slogger, func() { _ = l.Sync() }, nil
	case "logrus":
		ll, err := logrus.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("log level %q: %w", level, err)
		}
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(ll)
		l.SetFormatter(&logrus.JSONFormatter{})
		return picklogrus.New(l), slogger, func() {}, nil
	case "slog":
		return pickslog.Logger{L: slogger}, slogger, func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown logger %q", kind)
	}
}
