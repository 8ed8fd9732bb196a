package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger = zap.NewNop()
var once sync.Once

// LoggerInit builds the global logger once with the given level name.
// Unknown names fall back to info.
func LoggerInit(cfgLevel string) {
	once.Do(func() {
		level, err := zapcore.ParseLevel(cfgLevel)
		if err != nil || level < zap.DebugLevel || level > zap.ErrorLevel {
			level = zap.InfoLevel
		}
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.LevelKey = "lvl"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		loggerCfg := zap.NewProductionConfig()
		loggerCfg.Level = zap.NewAtomicLevelAt(level)
		loggerCfg.OutputPaths = []string{"stdout"}
		loggerCfg.DisableCaller = true
		loggerCfg.EncoderConfig = encoderCfg
		Log = zap.Must(loggerCfg.Build()).With(zap.String("service", "lessonadmin"))
	})
}

// Component returns the global logger tagged with a component name.
func Component(name string) *zap.Logger {
	return Log.With(zap.String("component", name))
}
