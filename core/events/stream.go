package events

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/actyx-go/ax/core/aql"
	"github.com/actyx-go/ax/core/eventstore"
)

// streamNDJSON drains an event channel through pipeline, writing one JSON
// object per line as each value is produced (spec.md §4.9 "responses ...
// are streamed, not buffered"). The trailing bool is ignored; this
// function applies no TimeTravel check and only renders records and
// diagnostics.
func streamNDJSON(w http.ResponseWriter, ctx context.Context, events <-chan eventstore.Event, pipeline *aql.Pipeline, _ bool) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	emit := func(rec ndjsonRecord) {
		_ = enc.Encode(rec)
		if flusher != nil {
			flusher.Flush()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if pipeline != nil {
					outs, diags := pipeline.Flush()
					for _, d := range diags {
						emit(diagnosticRecord(d))
					}
					for _, v := range outs {
						emit(valueRecord(ev, v))
					}
				}
				return
			}
			emitEvent(emit, pipeline, ev)
		}
	}
}

func emitEvent(emit func(ndjsonRecord), pipeline *aql.Pipeline, ev eventstore.Event) {
	if pipeline == nil {
		emit(eventRecord(ev, ev.Payload))
		return
	}
	val, err := aql.FromJSON(ev.Payload)
	if err != nil {
		emit(ndjsonRecord{Type: "diagnostic", Severity: string(aql.SeverityWarning), Message: "payload is not valid JSON, dropped by pipeline"})
		return
	}
	outs, diags, _ := pipeline.Feed(val, false)
	for _, d := range diags {
		emit(diagnosticRecord(d))
	}
	for _, v := range outs {
		emit(valueRecord(ev, v))
	}
}

func eventRecord(ev eventstore.Event, payload json.RawMessage) ndjsonRecord {
	return ndjsonRecord{
		Type:      "event",
		Lamport:   ev.Key.Lamport,
		Stream:    ev.Stream.String(),
		Offset:    uint64(ev.Offset),
		Timestamp: ev.Key.Micros,
		AppId:     ev.Key.AppId,
		Payload:   payload,
	}
}

func valueRecord(ev eventstore.Event, v aql.Value) ndjsonRecord {
	raw, err := v.ToJSON()
	if err != nil {
		return ndjsonRecord{Type: "diagnostic", Severity: string(aql.SeverityWarning), Message: "failed to encode pipeline output"}
	}
	rec := eventRecord(ev, json.RawMessage(raw))
	return rec
}

func diagnosticRecord(d aql.Diagnostic) ndjsonRecord {
	return ndjsonRecord{Type: "diagnostic", Severity: string(d.Severity), Message: d.Message}
}
