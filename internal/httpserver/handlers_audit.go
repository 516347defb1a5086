package httpserver

import (
	"time"

	"github.com/x402fac/facilitator/internal/auditlog"
	"github.com/x402fac/facilitator/pkg/protocol"
)

func auditRecordFromVerify(req verifyRequest, resp protocol.VerifyResponse, payer string) auditlog.Record {
	return auditlog.Record{
		Outcome:         auditlog.OutcomeVerify,
		Network:         string(req.PaymentRequirements.Network),
		Scheme:          string(req.PaymentRequirements.Scheme),
		Payer:           payer,
		PayTo:           req.PaymentRequirements.PayTo.String(),
		Asset:           req.PaymentRequirements.Asset.String(),
		Amount:          req.PaymentRequirements.MaxAmountRequired.String(),
		AuthorizationID: authorizationID(req.PaymentPayload),
		Resource:        req.PaymentRequirements.Resource,
		Success:         resp.IsValid,
		Reason:          resp.Reason,
		CreatedAt:       time.Now(),
	}
}

func auditRecordFromSettle(req settleRequest, resp protocol.SettleResponse, payer string) auditlog.Record {
	return auditlog.Record{
		Outcome:         auditlog.OutcomeSettle,
		Network:         string(req.PaymentRequirements.Network),
		Scheme:          string(req.PaymentRequirements.Scheme),
		Payer:           payer,
		PayTo:           req.PaymentRequirements.PayTo.String(),
		Asset:           req.PaymentRequirements.Asset.String(),
		Amount:          req.PaymentRequirements.MaxAmountRequired.String(),
		AuthorizationID: authorizationID(req.PaymentPayload),
		Resource:        req.PaymentRequirements.Resource,
		Success:         resp.Success,
		Reason:          resp.ErrorReason,
		TransactionHash: resp.TransactionHash,
		CreatedAt:       time.Now(),
	}
}
