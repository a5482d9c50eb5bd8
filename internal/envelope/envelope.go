// Package envelope defines the JSON payloads carried on the request and
// response streams.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Field is the single stream entry field holding an encoded envelope.
const Field = "data"

var ErrMissingRequestID = errors.New("envelope has no request_id")

// Request is a unit of work published by the front door.
type Request struct {
	RequestID  string    `json:"request_id"`
	DocumentID string    `json:"document_id"`
	Content    string    `json:"content"`
	Question   string    `json:"question,omitempty"`
	ModelID    string    `json:"model_id"`
	Timestamp  Timestamp `json:"timestamp"`
}

// Response carries the result for exactly one Request, correlated by
// RequestID.
type Response struct {
	RequestID string    `json:"request_id"`
	Result    string    `json:"result"`
	Cost      Cost      `json:"cost"`
	Error     string    `json:"error,omitempty"` // set when Result is a degraded message
	Timestamp Timestamp `json:"timestamp"`
}

// Cost is the token and price accounting for one model call.
type Cost struct {
	ModelID      string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
}

func ZeroCost(modelID string) Cost {
	return Cost{ModelID: modelID}
}

func EncodeRequest(r *Request) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}

func DecodeRequest(data []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if r.RequestID == "" {
		return nil, ErrMissingRequestID
	}
	return &r, nil
}

func EncodeResponse(r *Response) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return data, nil
}

func DecodeResponse(data []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if r.RequestID == "" {
		return nil, ErrMissingRequestID
	}
	return &r, nil
}

// Timestamp is encoded as fractional Unix seconds.
type Timestamp struct {
	time.Time
}

func Now() Timestamp {
	return Timestamp{Time: time.Now()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("0"), nil
	}
	secs := float64(t.UnixNano()) / float64(time.Second)
	return strconv.AppendFloat(nil, secs, 'f', 6, 64), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse timestamp %s: %w", data, err)
	}
	if secs == 0 {
		t.Time = time.Time{}
		return nil
	}
	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond))
	return nil
}
