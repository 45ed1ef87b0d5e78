package engine

import (
	"io"
	"os"
	"strings"

	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/config"
	"github.com/goliatone/go-exchange/scheduler"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the logger named by cfg.Backend. out defaults to stderr.
func NewLogger(cfg config.LoggingConfig, out io.Writer) (exchange.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	if level == "" {
		level = "info"
	}

	switch strings.ToLower(cfg.Backend) {
	case "zap":
		// zap has no trace level
		if level == "trace" {
			level = "debug"
		}
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, exchange.CloneError(exchange.ErrInvalidConfig, "invalid zap log level", err,
				map[string]any{"level": cfg.Level})
		}
		var enc zapcore.Encoder
		if cfg.JSON {
			enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		} else {
			enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		}
		return exchange.NewZapLogger(zap.New(zapcore.NewCore(enc, zapcore.AddSync(out), lvl))), nil
	case "fmt":
		return exchange.NewFmtLogger(out), nil
	default:
		return exchange.NewDefaultLogger(out, level, cfg.JSON), nil
	}
}

func schedulerOptions(cfg config.SchedulerConfig) ([]scheduler.Option, error) {
	var opts []scheduler.Option
	if cfg.Location != "" {
		loc, err := timeLocation(cfg.Location)
		if err != nil {
			return nil, err
		}
		opts = append(opts, scheduler.WithLocation(loc))
	}
	switch strings.ToLower(cfg.Parser) {
	case "standard":
		opts = append(opts, scheduler.WithParser(scheduler.StandardParser))
	case "seconds":
		opts = append(opts, scheduler.WithParser(scheduler.SecondsParser))
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "silent":
		opts = append(opts, scheduler.WithLogLevel(scheduler.LogLevelSilent))
	case "info":
		opts = append(opts, scheduler.WithLogLevel(scheduler.LogLevelInfo))
	case "debug":
		opts = append(opts, scheduler.WithLogLevel(scheduler.LogLevelDebug))
	}
	return opts, nil
}
