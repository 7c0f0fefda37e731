// Package alerts implements the structured alert sink (spec §6): every
// alert is logged to stdout as structured JSON, and warn/critical
// severities are additionally POSTed, best-effort, to a configured
// webhook. Logging uses zerolog's chained-call style the way the
// retrieved pack's KOLTracker AI engine logs its findings
// (log.Info().Str(...).Msg(...)), layered on top of (not replacing) the
// plain log.Printf used deeper in the gateway/wallet-manager code.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	keeper "github.com/eigenlabs/eigenkeeper"
)

// webhookTimeout bounds the best-effort webhook POST (spec §6: 5s).
const webhookTimeout = 5 * time.Second

// Sink is the concrete AlertSink: stdout via zerolog plus an optional
// webhook for warn/critical alerts.
type Sink struct {
	webhookURL string
	httpClient *http.Client
}

// New builds a Sink. webhookURL may be empty, in which case only stdout
// logging happens.
func New(webhookURL string) *Sink {
	return &Sink{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: webhookTimeout},
	}
}

// Emit implements keeper.AlertSink.
func (s *Sink) Emit(a keeper.Alert) {
	payload, err := json.Marshal(alertJSON{
		Level:   string(a.Level),
		EigenID: a.EigenID,
		Kind:    a.Kind,
		Message: a.Message,
		Fields:  a.Fields,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal alert")
		return
	}

	fmt.Printf("[ALERT %s] %s\n", a.Level, string(payload))

	evt := logEventFor(a.Level)
	evt.Str("kind", a.Kind).Str("eigen", a.EigenID).Msg(a.Message)

	if a.Level == keeper.AlertInfo || s.webhookURL == "" {
		return
	}
	go s.postWebhook(payload)
}

func logEventFor(level keeper.AlertLevel) *zerolog.Event {
	switch level {
	case keeper.AlertCritical:
		return log.Error()
	case keeper.AlertWarn:
		return log.Warn()
	default:
		return log.Info()
	}
}

func (s *Sink) postWebhook(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		log.Warn().Err(err).Msg("failed to build alert webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("alert webhook delivery failed")
		return
	}
	defer resp.Body.Close()
}

type alertJSON struct {
	Level   string                 `json:"level"`
	EigenID string                 `json:"eigen_id,omitempty"`
	Kind    string                 `json:"kind"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}
