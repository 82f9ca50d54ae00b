package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Initialize builds the process logger for env ("production" selects JSON
// output) and installs it as the zap global. When cloudWatchWriter is not nil
// every entry is tee'd to it as JSON.
func Initialize(env string, cloudWatchWriter io.Writer) *zap.Logger {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var log *zap.Logger
	if cloudWatchWriter != nil {
		level := zap.NewAtomicLevelAt(config.Level.Level())
		console := zapcore.NewCore(zapcore.NewConsoleEncoder(config.EncoderConfig), zapcore.AddSync(os.Stdout), level)

		cwConfig := config.EncoderConfig
		cwConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		cw := zapcore.NewCore(zapcore.NewJSONEncoder(cwConfig), zapcore.AddSync(cloudWatchWriter), level)

		log = zap.New(zapcore.NewTee(console, cw), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		var err error
		log, err = config.Build()
		if err != nil {
			fmt.Printf("Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
	}

	zap.ReplaceGlobals(log)
	return log
}
