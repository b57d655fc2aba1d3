package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// cardMoveMetrics accumulates stage timings for a card update request and
// logs them as one structured line. The reorder path is the hottest and
// most failure-prone request in the system, so it gets its own breakdown.
type cardMoveMetrics struct {
	logger            *log.Logger
	start             time.Time
	fetchDuration     time.Duration
	renumberDuration  time.Duration
	writeDuration     time.Duration
	broadcastDuration time.Duration
	orderChanged      bool
	crossList         bool
	cardsRenumbered   int
	errorStage        string
}

func newCardMoveMetrics(logger *log.Logger) *cardMoveMetrics {
	return &cardMoveMetrics{logger: logger, start: time.Now()}
}

func (m *cardMoveMetrics) ObserveFetch(d time.Duration) {
	if d > 0 {
		m.fetchDuration = d
	}
}

func (m *cardMoveMetrics) ObserveRenumber(d time.Duration) {
	if d > 0 {
		m.renumberDuration = d
	}
}

func (m *cardMoveMetrics) ObserveWrite(d time.Duration) {
	if d > 0 {
		m.writeDuration = d
	}
}

func (m *cardMoveMetrics) ObserveBroadcast(d time.Duration) {
	if d > 0 {
		m.broadcastDuration = d
	}
}

func (m *cardMoveMetrics) SetMove(orderChanged, crossList bool) {
	m.orderChanged = orderChanged
	m.crossList = crossList
}

func (m *cardMoveMetrics) SetCardsRenumbered(count int) {
	if count < 0 {
		count = 0
	}
	m.cardsRenumbered = count
}

func (m *cardMoveMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *cardMoveMetrics) Log(status int) {
	if m == nil || m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":         "/api/cards/:id",
		"status":        status,
		"total_ms":      durationToMillis(time.Since(m.start)),
		"order_changed": m.orderChanged,
		"cross_list":    m.crossList,
	}
	if m.fetchDuration > 0 {
		fields["fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.renumberDuration > 0 {
		fields["renumber_ms"] = durationToMillis(m.renumberDuration)
	}
	if m.writeDuration > 0 {
		fields["write_ms"] = durationToMillis(m.writeDuration)
	}
	if m.broadcastDuration > 0 {
		fields["broadcast_ms"] = durationToMillis(m.broadcastDuration)
	}
	if m.cardsRenumbered > 0 {
		fields["cards_renumbered"] = m.cardsRenumbered
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	m.logger.WithFields(fields).Info("cards.update.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
