package entity

import (
	"encoding/json"
	"time"
)

// CachedAggregate is the envelope every precalculated payload is stored
// under. LastUpdated drives the staleness contract: a reader treats the
// value as fresh only while now-LastUpdated stays within the category's
// refresh interval plus the configured cycle slack.
type CachedAggregate struct {
	Payload     json.RawMessage `json:"payload"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Stale reports whether the envelope has outlived the category's
// freshness window.
func (c CachedAggregate) Stale(interval, cycleSlack time.Duration, now time.Time) bool {
	return now.Sub(c.LastUpdated) > interval+cycleSlack
}

// WrapAggregate marshals a payload into a CachedAggregate stamped now.
func WrapAggregate(payload any, now time.Time) (CachedAggregate, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return CachedAggregate{}, err
	}
	return CachedAggregate{Payload: b, LastUpdated: now.UTC()}, nil
}
