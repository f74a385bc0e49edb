// Package alerts forwards actionable signals to external channels.
// Delivery is best-effort: a failed notification is logged and never
// aborts the analytics run that produced it.
package alerts

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/cryptolake/internal/models"
)

// Alert is the tuple handed to a notification channel.
type Alert struct {
	AssetID string        `json:"asset_id"`
	Symbol  string        `json:"symbol"`
	Price   float64       `json:"price"`
	RSI     float64       `json:"rsi"`
	Signal  models.Signal `json:"signal"`
}

// Notifier delivers alerts to one channel.
type Notifier interface {
	Notify(ctx context.Context, alerts []Alert) error
}

// Actionable filters the latest analyzed rows down to the BUY/SELL ones.
func Actionable(latest []models.AnalyzedRecord) []Alert {
	var alerts []Alert
	for _, record := range latest {
		if record.Signal == models.SignalWait {
			continue
		}
		alerts = append(alerts, Alert{
			AssetID: record.AssetID,
			Symbol:  record.Symbol,
			Price:   record.CurrentPrice,
			RSI:     record.RSIWindow,
			Signal:  record.Signal,
		})
	}
	return alerts
}

// Multi fans out to every configured channel, logging failures.
type Multi struct {
	notifiers []Notifier
	logger    *logrus.Logger
}

func NewMulti(logger *logrus.Logger, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, logger: logger}
}

// Notify delivers to all channels. When no destination is configured it
// logs and returns; it never returns an error that would fail the run.
func (m *Multi) Notify(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	if len(m.notifiers) == 0 {
		m.logger.WithField("alerts", len(alerts)).Info("No alert destination configured, skipping")
		return nil
	}

	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, alerts); err != nil {
			m.logger.WithError(err).Warn("Alert delivery failed")
		}
	}
	return nil
}
