package steps

import (
	"context"
	"errors"

	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/operations-runner/operations"
)

// LogParams are the params of a log step.
type LogParams struct {
	Message string         `mapstructure:"message"`
	Level   string         `mapstructure:"level"`
	Fields  map[string]any `mapstructure:"fields"`
}

func newLogFactory() operations.StepFactory {
	return func(name string, params map[string]any) (operations.Step, error) {
		var p LogParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Message == "" {
			return nil, errors.New("message is required")
		}

		level := zapcore.InfoLevel
		if p.Level != "" {
			var err error
			if level, err = zapcore.ParseLevel(p.Level); err != nil {
				return nil, err
			}
		}

		return NewLog(name, level, p.Message, p.Fields), nil
	}
}

// NewLog creates a step writing message to the run log at level.
func NewLog(name string, level zapcore.Level, message string, fields map[string]any) *operations.Operation[string] {
	kv := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}

	return operations.NewOperation(name, func(_ context.Context, rc *operations.RunContext) (string, error) {
		switch level {
		case zapcore.DebugLevel:
			rc.Logger.Debugw(message, kv...)
		case zapcore.WarnLevel:
			rc.Logger.Warnw(message, kv...)
		case zapcore.ErrorLevel:
			rc.Logger.Errorw(message, kv...)
		default:
			rc.Logger.Infow(message, kv...)
		}

		return message, nil
	})
}
