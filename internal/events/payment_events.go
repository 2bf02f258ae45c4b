// Package events wires the NATS subjects published by the chain
// observers into the settlement tracker. Subjects are per chain:
//
//	crosspay.<chain>.payment.detected   funding payments to the treasury
//	crosspay.<chain>.execution.result   execution adapter outcomes
//
// Messages may be redelivered; the settlement service is idempotent, so
// handlers just decode and forward.
package events

import (
	"context"
	"encoding/json"
	"time"

	"crosspay/internal/clients"
	"crosspay/internal/errs"
	"crosspay/internal/metrics"
	"crosspay/internal/models"
	"crosspay/internal/services"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	subjectPaymentDetected = "crosspay.*.payment.detected"
	subjectExecutionResult = "crosspay.*.execution.result"
	consumerQueue          = "crosspay-engine"
	handlerTimeout         = 30 * time.Second
)

// paymentDetectedEvent is the wire shape published by funding-chain
// observers.
type paymentDetectedEvent struct {
	Chain       string `json:"chain"`
	QuoteID     string `json:"quote_id"`
	FromAddress string `json:"from_address"`
	Amount      string `json:"amount"`
	TxHash      string `json:"tx_hash"`
	ObservedAt  int64  `json:"observed_at"` // unix seconds
}

// executionResultEvent is the wire shape published by execution
// adapters.
type executionResultEvent struct {
	Chain   string `json:"chain"`
	QuoteID string `json:"quote_id"`
	TxHash  string `json:"tx_hash"`
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Amount  string `json:"amount"`
}

// Consumer subscribes to chain observation subjects and feeds the
// settlement service.
type Consumer struct {
	nats       *clients.NATSClient
	settlement *services.SettlementService
}

// NewConsumer creates a Consumer.
func NewConsumer(nc *clients.NATSClient, settlement *services.SettlementService) *Consumer {
	return &Consumer{nats: nc, settlement: settlement}
}

// Subscribe registers the queue subscriptions. Queue groups make
// horizontal replicas share each subject instead of double-processing.
func (c *Consumer) Subscribe() error {
	if err := c.nats.Subscribe(subjectPaymentDetected, consumerQueue, c.handlePaymentDetected); err != nil {
		return err
	}
	if err := c.nats.Subscribe(subjectExecutionResult, consumerQueue, c.handleExecutionResult); err != nil {
		return err
	}
	logrus.Info("subscribed to chain observation subjects")
	return nil
}

func (c *Consumer) handlePaymentDetected(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var event paymentDetectedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		metrics.NATSMessagesFailed.WithLabelValues(msg.Subject).Inc()
		logrus.WithError(err).WithField("subject", msg.Subject).Error("malformed payment event")
		return
	}

	amount, err := decimal.NewFromString(event.Amount)
	if err != nil {
		metrics.NATSMessagesFailed.WithLabelValues(msg.Subject).Inc()
		logrus.WithError(err).WithField("tx_hash", event.TxHash).Error("malformed payment amount")
		return
	}

	input := services.FundingPaymentInput{
		Chain:       models.Chain(event.Chain),
		QuoteID:     event.QuoteID,
		FromAddress: event.FromAddress,
		Amount:      amount,
		TxHash:      event.TxHash,
	}
	if event.ObservedAt > 0 {
		input.ObservedAt = time.Unix(event.ObservedAt, 0).UTC()
	}

	result, err := c.settlement.RecordFundingPayment(ctx, input)
	if err != nil {
		// Typed rejections (wrong amount, dead quote) are final; only
		// infrastructure errors count as processing failures.
		if errs.CodeOf(err) == "" {
			metrics.NATSMessagesFailed.WithLabelValues(msg.Subject).Inc()
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"quote_id": event.QuoteID,
			"tx_hash":  event.TxHash,
		}).Warn("funding payment rejected")
		return
	}

	logrus.WithFields(logrus.Fields{
		"quote_id":  result.QuoteID,
		"tx_hash":   event.TxHash,
		"duplicate": result.Duplicate,
		"committed": result.Committed,
	}).Info("funding payment processed")
}

func (c *Consumer) handleExecutionResult(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var event executionResultEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		metrics.NATSMessagesFailed.WithLabelValues(msg.Subject).Inc()
		logrus.WithError(err).WithField("subject", msg.Subject).Error("malformed execution result event")
		return
	}

	amount := decimal.Zero
	if event.Amount != "" {
		parsed, err := decimal.NewFromString(event.Amount)
		if err != nil {
			metrics.NATSMessagesFailed.WithLabelValues(msg.Subject).Inc()
			logrus.WithError(err).WithField("quote_id", event.QuoteID).Error("malformed execution amount")
			return
		}
		amount = parsed
	}

	outcome, err := c.settlement.RecordExecutionResult(ctx, services.ExecutionResultInput{
		Chain:   models.Chain(event.Chain),
		QuoteID: event.QuoteID,
		TxHash:  event.TxHash,
		Success: event.Success,
		Reason:  event.Reason,
		Amount:  amount,
	})
	if err != nil {
		if errs.CodeOf(err) == "" {
			metrics.NATSMessagesFailed.WithLabelValues(msg.Subject).Inc()
		}
		logrus.WithError(err).WithField("quote_id", event.QuoteID).Warn("execution result rejected")
		return
	}

	logrus.WithFields(logrus.Fields{
		"quote_id":   outcome.QuoteID,
		"status":     outcome.QuoteStatus,
		"will_retry": outcome.WillRetry,
	}).Info("execution result processed")
}
