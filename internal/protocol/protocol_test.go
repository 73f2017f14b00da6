package protocol

import (
	"bytes"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	dec := NewDecoder(&buf)

	want := []Request{
		{Kind: KindGet, Key: "foo"},
		{Kind: KindSet, Key: "foo", Val: "bar"},
		{Kind: KindRemove, Key: "foo"},
	}

	for _, req := range want {
		if err := enc.EncodeRequest(req); err != nil {
			t.Fatalf("EncodeRequest(%+v) failed: %v", req, err)
		}
	}

	for i, wantReq := range want {
		got, err := dec.DecodeRequest()
		if err != nil {
			t.Fatalf("DecodeRequest #%d failed: %v", i, err)
		}
		if got != wantReq {
			t.Errorf("request #%d = %+v, want %+v", i, got, wantReq)
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	dec := NewDecoder(&buf)

	want := []Response{
		{Val: "bar", Found: true},
		{Found: false},
		{Err: "key not found", Kind: "key_not_found"},
	}

	for _, resp := range want {
		if err := enc.EncodeResponse(resp); err != nil {
			t.Fatalf("EncodeResponse(%+v) failed: %v", resp, err)
		}
	}

	for i, wantResp := range want {
		got, err := dec.DecodeResponse()
		if err != nil {
			t.Fatalf("DecodeResponse #%d failed: %v", i, err)
		}
		if got != wantResp {
			t.Errorf("response #%d = %+v, want %+v", i, got, wantResp)
		}
	}
}
