package abi

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEncodeRequestDrainsBody(t *testing.T) {
	req := httptest.NewRequest("POST", "http://host/a/b?x=1", strings.NewReader("payload"))
	req.Header.Set("Content-Type", "text/plain")

	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var guest Request
	if err := json.Unmarshal(data, &guest); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if guest.Method != "POST" {
		t.Fatalf("method = %q, want POST", guest.Method)
	}
	if guest.URI != "/a/b?x=1" {
		t.Fatalf("uri = %q, want /a/b?x=1", guest.URI)
	}
	if string(guest.Body) != "payload" {
		t.Fatalf("body = %q, want payload", guest.Body)
	}
	if got := guest.Headers["Content-Type"]; len(got) != 1 || got[0] != "text/plain" {
		t.Fatalf("content-type header = %v", got)
	}
}

func TestDecodeResponse(t *testing.T) {
	data, _ := json.Marshal(Response{
		Status:  201,
		Headers: map[string][]string{"X-Guest": {"yes"}},
		Body:    []byte("created"),
	})

	resp, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != 201 {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Guest"); got != "yes" {
		t.Fatalf("header = %q, want yes", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "created" {
		t.Fatalf("body = %q, want created", body)
	}
}

func TestDecodeResponseRejectsBadStatus(t *testing.T) {
	for _, status := range []int{0, 99, 600} {
		data, _ := json.Marshal(Response{Status: status})
		if _, err := DecodeResponse(data); err == nil {
			t.Fatalf("status %d accepted", status)
		}
	}
	if _, err := DecodeResponse([]byte("not json")); err == nil {
		t.Fatal("malformed response accepted")
	}
}
