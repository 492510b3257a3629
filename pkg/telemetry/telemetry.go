// Package telemetry publishes controller events over MQTT with an
// abstraction for testing.
package telemetry

import (
	"encoding/json"
	"time"

	"probetherm/pkg/config"
)

// TopicHeaters carries the heater-states line on the wait report cadence.
const TopicHeaters = "probetherm/heaters"

// TopicWait carries wait-session lifecycle events.
const TopicWait = "probetherm/wait"

// Wait lifecycle event names.
const (
	EventStarted   = "started"
	EventReport    = "report"
	EventCompleted = "completed"
	EventTimedOut  = "timed_out"
)

// WaitEvent is one point in a wait session's lifecycle.
type WaitEvent struct {
	Timestamp time.Time
	Event     string
	Direction string
	Target    int
	Reading   float64
}

// Publisher publishes controller telemetry.
type Publisher interface {
	// PublishHeaters sends the heater-states line to the broker.
	// Returns error if publishing fails (must not crash the host).
	PublishHeaters(line string) error

	// PublishWait sends a wait lifecycle event to the broker.
	PublishWait(event WaitEvent) error

	// Close disconnects from the broker.
	Close() error
}

// New builds a Publisher from the optional [mqtt] config section:
//
//	[mqtt]
//	broker: tcp://localhost:1883
//	client_id: probetherm
//	publish_timeout: 5.0
//
// Without the section a no-op publisher is returned.
func New(cfg *config.Config) (Publisher, error) {
	sec := cfg.GetSectionOptional("mqtt")
	if sec == nil {
		return NopPublisher{}, nil
	}
	broker, err := sec.Get("broker")
	if err != nil {
		return nil, err
	}
	clientID, err := sec.Get("client_id", "probetherm")
	if err != nil {
		return nil, err
	}
	zero := 0.0
	timeout, err := sec.GetFloatWithBounds("publish_timeout",
		config.FloatBounds{Above: &zero}, 5.0)
	if err != nil {
		return nil, err
	}
	return NewMQTTPublisher(broker, clientID, time.Duration(timeout*float64(time.Second)))
}

// HeatersPayload is the JSON shape on TopicHeaters.
type HeatersPayload struct {
	Heaters HeatersInner `json:"heaters"`
}

type HeatersInner struct {
	Timestamp string `json:"timestamp"`
	Line      string `json:"line"`
}

// FormatHeatersPayload creates the JSON payload for a heater-states line.
func FormatHeatersPayload(line string, now time.Time) ([]byte, error) {
	return json.Marshal(HeatersPayload{
		Heaters: HeatersInner{
			Timestamp: now.UTC().Format(time.RFC3339),
			Line:      line,
		},
	})
}

// WaitPayload is the JSON shape on TopicWait.
type WaitPayload struct {
	Wait WaitInner `json:"wait"`
}

type WaitInner struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	Direction string  `json:"direction"`
	Target    int     `json:"target"`
	Reading   float64 `json:"reading"`
}

// FormatWaitPayload creates the JSON payload for a wait lifecycle event.
func FormatWaitPayload(event WaitEvent) ([]byte, error) {
	return json.Marshal(WaitPayload{
		Wait: WaitInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Direction: event.Direction,
			Target:    event.Target,
			Reading:   event.Reading,
		},
	})
}

// NopPublisher drops everything. Used when no [mqtt] section is configured.
type NopPublisher struct{}

func (NopPublisher) PublishHeaters(string) error { return nil }
func (NopPublisher) PublishWait(WaitEvent) error { return nil }
func (NopPublisher) Close() error { return nil }
