package channels

import (
	"context"
	"log"

	"github.com/akmatori/contractmon/internal/models"
)

// Log writes alerts to the process log
type Log struct {
	Base
	logger *log.Logger
}

// NewLog creates a log channel; a nil logger uses the standard logger
func NewLog(logger *log.Logger) *Log {
	if logger == nil {
		logger = log.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Name() string { return "log" }

func (l *Log) SendAlert(ctx context.Context, event models.ContractViolationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.logger.Printf("ALERT [%s] %s/%s: %s (element=%q expected=%q actual=%q id=%s)",
		event.Severity, event.ContractName, event.ViolationType, event.Message,
		event.Element, event.ExpectedValue, event.ActualValue, event.ID)
	return nil
}
