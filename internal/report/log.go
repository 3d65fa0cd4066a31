package report

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newRecordLogger builds a JSON-lines zap logger that writes to w.
func newRecordLogger(w io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), zapcore.DebugLevel)
	return zap.New(core)
}

// OutcomeFields returns the structured fields describing an outcome.
func OutcomeFields(o Outcome) []zap.Field {
	return []zap.Field{
		zap.String("environment", o.EnvironmentID),
		zap.String("status", o.Status.String()),
		zap.String("cause", o.Cause.String()),
		zap.Int64("duration_ms", o.DurationMillis()),
		zap.Strings("diagnostics", o.Diagnostics),
	}
}

// WriteLog writes one JSON record per outcome followed by a summary record,
// for CI systems that ingest structured logs.
func WriteLog(w io.Writer, r Report) error {
	logger := newRecordLogger(w)
	for _, o := range r.Outcomes {
		fields := append([]zap.Field{zap.String("run_id", r.RunID)}, OutcomeFields(o)...)
		logger.Info("outcome", fields...)
	}
	counts := r.Counts()
	logger.Info("report",
		zap.String("run_id", r.RunID),
		zap.String("overall", r.Overall.String()),
		zap.Int("environments", len(r.Outcomes)),
		zap.Int("passed", counts[Passed]),
		zap.Int("failed", counts[Failed]),
		zap.Int("errored", counts[Errored]),
		zap.Int("exit_code", r.ExitCode()),
	)
	return logger.Sync()
}

// WriteLogFile writes the report log to path, replacing any existing file.
func WriteLogFile(path string, r Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report log: %w", err)
	}
	if err := WriteLog(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write report log: %w", err)
	}
	return f.Close()
}
