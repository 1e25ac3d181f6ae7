package steplog

import (
	"os"

	"github.com/jarabaimpact/agentflow/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Collector mirrors step records to a secondary sink.
type Collector interface {
	RecordStep(log model.StepLog)
}

type NoopCollector struct{}

func (NoopCollector) RecordStep(log model.StepLog) {}

// LogFileCollector appends every step record as a JSON line to a file using
// a dedicated zap core, independent of the primary store.
type LogFileCollector struct {
	fileName string
	logger   *zap.Logger
}

var _ Collector = new(LogFileCollector)

func NewLogFileCollector(fileName string) (*LogFileCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := zapcore.AddSync(logFile)
	core := zapcore.NewCore(fileEncoder, writer, zapcore.InfoLevel)
	return &LogFileCollector{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (lc *LogFileCollector) Close() error {
	return lc.logger.Sync()
}

func (lc *LogFileCollector) RecordStep(log model.StepLog) {
	lc.logger.Info("step",
		zap.String("executionId", log.ExecutionId),
		zap.String("step", log.StepName),
		zap.String("type", log.StepType),
		zap.Int("order", log.Order),
		zap.String("status", string(log.Status)),
		zap.String("errorKind", string(log.ErrorKind)),
		zap.String("error", log.Error),
		zap.Int64("durationMs", log.DurationMs),
		zap.Int64("tokens", log.Tokens),
		zap.Float64("cost", log.Cost),
	)
}
