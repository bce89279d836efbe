// Package transport defines the single non-standard dependency the
// sync core takes on: an injectable request/response function. Neither
// the credential manager nor the request pipeline assume any
// particular HTTP stack — both depend only on Func.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// Request is the outgoing side of the transport contract.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is the incoming side of the transport contract.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Func is the injectable transport: everything the sync core sends
// over the wire goes through one of these.
type Func func(ctx context.Context, req Request) (*Response, error)

// NewStdlib builds a Func backed by net/http.Client, the default
// transport a caller gets if it doesn't supply its own.
func NewStdlib(client *http.Client) Func {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, req Request) (*Response, error) {
		var bodyReader io.Reader
		if req.Body != nil {
			bodyReader = bytes.NewReader(req.Body)
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
		if err != nil {
			return nil, err
		}
		for key, values := range req.Headers {
			for _, v := range values {
				httpReq.Header.Add(key, v)
			}
		}

		httpResp, err := client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, err
		}

		return &Response{
			StatusCode: httpResp.StatusCode,
			Headers:    httpResp.Header,
			Body:       body,
		}, nil
	}
}
