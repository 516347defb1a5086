package auditlog

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNoopLog_AppendLogsAndSucceeds(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	log := NewNoopLog(logger)

	err := log.Append(context.Background(), Record{
		Outcome:         OutcomeSettle,
		Network:         "base",
		Payer:           "0xabc",
		AuthorizationID: "0xnonce",
		Success:         true,
		CreatedAt:       time.Now(),
	})
	require.NoError(t, err)
	require.Contains(t, buf.String(), "audit log disabled")
	require.Contains(t, buf.String(), "0xnonce")
}

func TestNoopLog_FindByAuthorizationReturnsEmpty(t *testing.T) {
	log := NewNoopLog(zerolog.Nop())
	records, err := log.FindByAuthorization(context.Background(), "0xabc", "0xnonce")
	require.NoError(t, err)
	require.Empty(t, records)
}
