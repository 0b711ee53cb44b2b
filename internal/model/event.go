package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EmitInfo ties an event to the receipt, block, and shard that produced it.
type EmitInfo struct {
	ReceiptID         string `json:"receipt_id"`
	BlockHeight       uint64 `json:"block_height"`
	BlockTimestamp    uint64 `json:"block_timestamp"`
	ShardID           uint64 `json:"shard_id"`
	ContractAccountID string `json:"contract_account_id"`
}

// Event is a NEP-297 event log record as published downstream.
type Event struct {
	Standard string    `json:"standard"`
	Version  string    `json:"version"`
	Event    string    `json:"event"`
	Data     EventData `json:"data"`
	EmitInfo *EmitInfo `json:"emit_info,omitempty"`
}

var (
	errMissingStandard = errors.New("missing field standard")
	errMissingVersion  = errors.New("missing field version")
	errMissingEvent    = errors.New("missing field event")
	errMissingData     = errors.New("missing field data")
)

type eventEnvelope struct {
	Standard *string         `json:"standard"`
	Version  *string         `json:"version"`
	Event    *string         `json:"event"`
	Data     json.RawMessage `json:"data"`
	EmitInfo *EmitInfo       `json:"emit_info"`
}

// UnmarshalJSON decodes the envelope and then the payload according to the
// standard and event name.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	switch {
	case env.Standard == nil:
		return errMissingStandard
	case env.Version == nil:
		return errMissingVersion
	case env.Event == nil:
		return errMissingEvent
	case len(env.Data) == 0:
		return errMissingData
	}

	*e = Event{
		Standard: *env.Standard,
		Version:  *env.Version,
		Event:    *env.Event,
		Data:     DecodeEventData(*env.Standard, *env.Event, env.Data),
		EmitInfo: env.EmitInfo,
	}
	return nil
}

// Key is the partition key: the emitting contract when known.
func (e Event) Key() string {
	if e.EmitInfo != nil {
		return e.EmitInfo.ContractAccountID
	}
	return e.DefaultKey()
}

// DefaultKey is "{standard}.{event}" regardless of provenance.
func (e Event) DefaultKey() string {
	return fmt.Sprintf("%s.%s", e.Standard, e.Event)
}

// Topic derives the per-event topic name under prefix.
func (e Event) Topic(prefix string) string {
	return fmt.Sprintf("%s.%s", prefix, e.DefaultKey())
}

// ContractAccountID returns the emitting contract or "" without provenance.
func (e Event) ContractAccountID() string {
	if e.EmitInfo == nil {
		return ""
	}
	return e.EmitInfo.ContractAccountID
}

// WithEmitInfo returns a copy of e carrying its own copy of info.
func (e Event) WithEmitInfo(info EmitInfo) Event {
	e.EmitInfo = &info
	return e
}

// WithData returns a copy of e with data replaced. Provenance is copied, never
// shared, so the clone cannot alter the original.
func (e Event) WithData(data EventData) Event {
	clone := e
	clone.Data = data
	if e.EmitInfo != nil {
		info := *e.EmitInfo
		clone.EmitInfo = &info
	}
	return clone
}

// Flatten splits a batched payload into one event per item. Flat and generic
// payloads yield nothing.
func (e Event) Flatten() []Event {
	items := e.Data.flatten()
	if len(items) == 0 {
		return nil
	}
	out := make([]Event, 0, len(items))
	for _, item := range items {
		out = append(out, e.WithData(item))
	}
	return out
}
