package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/marketadmin/internal/ordering"
)

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// decodeList accepts a bare JSON array or {"data":[...]}.
func decodeList(raw []byte) ([]ordering.Entity, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty response body")
	}

	if raw[0] == '{' {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode list envelope: %w", err)
		}
		if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
			return nil, errors.New("list response has no data array")
		}
		raw = env.Data
	}

	list := []ordering.Entity{}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return list, nil
}

// decodeEntity accepts a bare entity or {"data":{...}}.
func decodeEntity(raw []byte) (ordering.Entity, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ordering.Entity{}, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ordering.Entity{}, fmt.Errorf("decode entity: %w", err)
	}
	if d := bytes.TrimSpace(env.Data); len(d) > 0 && d[0] == '{' {
		raw = d
	}

	var e ordering.Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return ordering.Entity{}, fmt.Errorf("decode entity: %w", err)
	}
	return e, nil
}
