package auditlog

import (
	"context"

	"github.com/rs/zerolog"
)

// NoopLog is used when no audit log backend is configured. It still logs
// every record at info level so operators running without Postgres don't
// lose the audit trail entirely; this component is optional by design,
// so it degrades to log-only rather than refusing to start.
type NoopLog struct {
	logger zerolog.Logger
}

// NewNoopLog returns a Log that logs and discards.
func NewNoopLog(logger zerolog.Logger) *NoopLog {
	return &NoopLog{logger: logger}
}

func (l *NoopLog) Append(_ context.Context, record Record) error {
	l.logger.Info().
		Str("outcome", string(record.Outcome)).
		Str("network", record.Network).
		Str("scheme", record.Scheme).
		Str("payer", record.Payer).
		Str("authorization_id", record.AuthorizationID).
		Bool("success", record.Success).
		Str("transaction_hash", record.TransactionHash).
		Msg("audit log disabled, recording to log only")
	return nil
}

func (l *NoopLog) FindByAuthorization(_ context.Context, _, _ string) ([]Record, error) {
	return nil, nil
}

func (l *NoopLog) Close() error {
	return nil
}
