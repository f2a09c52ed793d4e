package protocol

import (
	"encoding/json"
	"fmt"
)

// LinkResult is the provider identity discovered by the worker.
type LinkResult struct {
	OsuID    int64  `json:"osuId"`
	Username string `json:"username"`
}

// DecodeLinkResult parses a stored or transmitted result, requiring both fields.
func DecodeLinkResult(data []byte) (LinkResult, error) {
	var raw struct {
		OsuID    *int64  `json:"osuId"`
		Username *string `json:"username"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return LinkResult{}, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	if raw.OsuID == nil || raw.Username == nil {
		return LinkResult{}, ErrMalformedResult
	}
	return LinkResult{OsuID: *raw.OsuID, Username: *raw.Username}, nil
}

// StatusResponse is the answer to a status poll. It is either StatusPending or
// StatusComplete; no other implementations exist.
type StatusResponse interface {
	statusResponse()
}

// StatusPending means no result is available for the nonce. It covers "not yet
// authorized", "already collected" and "expired" alike.
type StatusPending struct{}

// StatusComplete carries the result of a finished attempt.
type StatusComplete struct {
	Result LinkResult
}

func (StatusPending) statusResponse()  {}
func (StatusComplete) statusResponse() {}

func (StatusPending) MarshalJSON() ([]byte, error) {
	return []byte(`{"complete":false}`), nil
}

func (c StatusComplete) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Complete bool       `json:"complete"`
		Data     LinkResult `json:"data"`
	}{true, c.Result})
}

// DecodeStatusResponse strictly parses a status body: "complete" must be a
// boolean, "data" must be absent when false and a valid LinkResult when true.
func DecodeStatusResponse(data []byte) (StatusResponse, error) {
	var raw struct {
		Complete *bool           `json:"complete"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStatus, err)
	}
	if raw.Complete == nil {
		return nil, ErrMalformedStatus
	}
	if !*raw.Complete {
		if raw.Data != nil {
			return nil, fmt.Errorf("%w: data on pending response", ErrMalformedStatus)
		}
		return StatusPending{}, nil
	}
	if raw.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedStatus)
	}
	res, err := DecodeLinkResult(raw.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStatus, err)
	}
	return StatusComplete{Result: res}, nil
}
