package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestStatusResponseJSON(t *testing.T) {
	b, err := json.Marshal(StatusPending{})
	if err != nil || string(b) != `{"complete":false}` {
		t.Errorf("pending = %s, %v", b, err)
	}

	b, err = json.Marshal(StatusComplete{Result: LinkResult{OsuID: 7, Username: "peppy"}})
	want := `{"complete":true,"data":{"osuId":7,"username":"peppy"}}`
	if err != nil || string(b) != want {
		t.Errorf("complete = %s, %v; want %s", b, err, want)
	}

	// Encoded through the interface type as the status handler does.
	var resp StatusResponse = StatusPending{}
	if b, _ := json.Marshal(resp); string(b) != `{"complete":false}` {
		t.Errorf("interface-typed pending = %s", b)
	}
}

func TestDecodeStatusResponse(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantErr  bool
		complete bool
	}{
		{name: "pending", body: `{"complete":false}`},
		{name: "complete", body: `{"complete":true,"data":{"osuId":1,"username":"a"}}`, complete: true},
		{name: "pending with data", body: `{"complete":false,"data":{"osuId":1,"username":"a"}}`, wantErr: true},
		{name: "complete without data", body: `{"complete":true}`, wantErr: true},
		{name: "complete with null data", body: `{"complete":true,"data":null}`, wantErr: true},
		{name: "complete with partial data", body: `{"complete":true,"data":{"osuId":1}}`, wantErr: true},
		{name: "complete wrong type", body: `{"complete":"yes"}`, wantErr: true},
		{name: "missing complete", body: `{}`, wantErr: true},
		{name: "not json", body: `Unauthorized`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeStatusResponse([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedStatus) {
					t.Fatalf("error = %v, want ErrMalformedStatus", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			switch v := got.(type) {
			case StatusComplete:
				if !tt.complete {
					t.Fatalf("got complete, want pending")
				}
				if v.Result != (LinkResult{OsuID: 1, Username: "a"}) {
					t.Errorf("result = %+v", v.Result)
				}
			case StatusPending:
				if tt.complete {
					t.Fatalf("got pending, want complete")
				}
			default:
				t.Fatalf("unexpected type %T", got)
			}
		})
	}
}

func TestDecodeLinkResult(t *testing.T) {
	if _, err := DecodeLinkResult([]byte(`{"osuId":"1","username":"a"}`)); !errors.Is(err, ErrMalformedResult) {
		t.Errorf("string id should be rejected, got %v", err)
	}
	got, err := DecodeLinkResult([]byte(`{"osuId":12345,"username":"mrekk"}`))
	if err != nil || got.OsuID != 12345 || got.Username != "mrekk" {
		t.Errorf("DecodeLinkResult() = %+v, %v", got, err)
	}
}
