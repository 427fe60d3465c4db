package controller

import (
	"encoding/json"
)

// jsonCodec lets connect carry plain Go structs. It takes the "json" name so
// that clients sending application/json (the browser frontend) are served.
type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
