// Package abi defines the host/guest handler contract. Requests and
// responses cross the sandbox boundary as JSON blobs moved through linear
// memory by the rvm/http bridge module; the guest entry point is an
// exported function
//
//	handle(request_len: u32)
//
// which reads the pending request with read_request and delivers its
// response with write_response before returning.
package abi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Request is the guest-observed HTTP request.
type Request struct {
	Method  string              `json:"method"`
	URI     string              `json:"uri"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

// Response is the guest-produced HTTP response.
type Response struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

// EncodeRequest drains r's body and serializes the request for the guest.
func EncodeRequest(r *http.Request) ([]byte, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	data, err := json.Marshal(Request{
		Method:  r.Method,
		URI:     r.URL.RequestURI(),
		Headers: r.Header,
		Body:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}

// DecodeResponse parses the guest's response bytes into an http.Response.
func DecodeResponse(data []byte) (*http.Response, error) {
	var guest Response
	if err := json.Unmarshal(data, &guest); err != nil {
		return nil, fmt.Errorf("decode guest response: %w", err)
	}
	if guest.Status < 100 || guest.Status > 599 {
		return nil, fmt.Errorf("guest response status %d out of range", guest.Status)
	}

	header := http.Header{}
	for k, vs := range guest.Headers {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	return &http.Response{
		StatusCode:    guest.Status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(guest.Body)),
		ContentLength: int64(len(guest.Body)),
	}, nil
}
