// internal/logging/logging.go
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the process logger: colored human-readable console
// output plus a buffered JSON file sink.
func InitLogger(debug bool, logFile string) (*zap.Logger, error) {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	sink, err := NewFileSink(logFile, defaultFlushInterval)
	if err != nil {
		return nil, err
	}

	fileConfig := zap.NewProductionEncoderConfig()
	fileConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(ConsoleEncoder(), zapcore.AddSync(zapcore.Lock(os.Stdout)), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(fileConfig), sink, level),
	)

	return zap.New(core), nil
}
