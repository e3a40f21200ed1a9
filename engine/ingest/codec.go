package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/rawcontext/engram/engine/domain"
)

func encodeEvent(ev domain.RawEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("ingest: marshal event %s: %w", ev.EventID, err)
	}
	return data, nil
}
