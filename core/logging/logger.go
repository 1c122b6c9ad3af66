package logging

import (
	"os"

	"go.uber.org/zap/zapcore"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the package-level structured logger for the whole module.
// The database logs Open and Close through it, and the persistent backend
// logs failed point reads; other state transitions are not logged. It is a
// no-op until InitLogging replaces it, so the library is usable as an
// embedded dependency without any logging setup.
var Logger = zap.NewNop()

// InitLogging initializes Logger for the given run mode ("development" or
// anything else for production-style JSON-free console logging).
func InitLogging(mode string) {
	logWriter := getWriteSyncer("log/statedb.log")

	var cfg zap.Config
	if mode != "development" {
		cfg = zap.NewProductionConfig()
		cfg.DisableCaller = true
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.NameKey = "name"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.EncoderConfig.StacktraceKey = "stacktrace"
		if viper.GetBool("logging.console") {
			logWriter = zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), logWriter)
		}
	}
	if lvl := viper.GetString("logging.level"); lvl != "" {
		_ = cfg.Level.UnmarshalText([]byte(lvl))
	}
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := createZapCore(logWriter, cfg)
	l, err := cfg.Build(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
	if err != nil {
		panic(err)
	}

	Logger = l
}

func createZapCore(ws zapcore.WriteSyncer, conf zap.Config) zapcore.Core {
	return zapcore.NewCore(getEncoder(conf), ws, conf.Level)
}

func getEncoder(conf zap.Config) zapcore.Encoder {
	switch conf.Encoding {
	case "json":
		return zapcore.NewJSONEncoder(conf.EncoderConfig)
	case "console":
		return zapcore.NewConsoleEncoder(conf.EncoderConfig)
	default:
		panic("unknown encoding")
	}
}

func getWriteSyncer(logName string) zapcore.WriteSyncer {
	ioWriter := &lumberjack.Logger{
		Filename:   logName,
		MaxSize:    100, // MB
		MaxBackups: 5,
		MaxAge:     28, // days
		LocalTime:  false,
		Compress:   false,
	}
	ioWriter.Rotate()
	return zapcore.AddSync(ioWriter)
}
