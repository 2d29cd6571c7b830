package idempotency

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrHeaderDecode = errors.New("stored response headers are malformed")

// HeaderPair is one captured header line. Value holds the raw bytes as sent.
type HeaderPair struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// SavedResponse is a captured HTTP response, independent of any web framework.
// Headers keep their original order and repetitions.
type SavedResponse struct {
	StatusCode int
	Headers    []HeaderPair
	Body       []byte
}

// Header returns the first value stored under name, compared exactly.
func (r SavedResponse) Header(name string) ([]byte, bool) {
	for _, h := range r.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return nil, false
}

func encodeHeaders(headers []HeaderPair) ([]byte, error) {
	if headers == nil {
		headers = []HeaderPair{}
	}
	for i, h := range headers {
		if h.Name == "" {
			return nil, fmt.Errorf("header %d has an empty name", i)
		}
	}
	return json.Marshal(headers)
}

func decodeHeaders(raw []byte) ([]HeaderPair, error) {
	var headers []HeaderPair
	if err := json.Unmarshal(raw, &headers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHeaderDecode, err)
	}
	for i, h := range headers {
		if h.Name == "" {
			return nil, fmt.Errorf("%w: header %d has an empty name", ErrHeaderDecode, i)
		}
	}
	return headers, nil
}
