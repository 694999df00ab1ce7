package deployer

import (
	"encoding/json"
	"fmt"
)

// payload is a decoded result document. Fields of the wrong type read as
// empty instead of failing the operation.
type payload map[string]json.RawMessage

func decodePayload(data []byte) (payload, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedPayload)
	}
	return p, nil
}

func (p payload) str(key string) string {
	var s string
	if raw, ok := p[key]; ok {
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
	}
	return s
}

func (p payload) object(key string) map[string]interface{} {
	var m map[string]interface{}
	if raw, ok := p[key]; ok {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil
		}
	}
	return m
}
