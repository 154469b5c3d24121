package requests

// requests is a library for making JSON requests to HTTP APIs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// RequestJSON sends 'body' as JSON (unless it is nil), and decodes the JSON response into T.
// Any status code of 300 or above is returned as an error, which includes the response body.
func RequestJSON[T any](ctx context.Context, client *http.Client, method, url string, body any) (response *T, err error) {
	resp, err := send(ctx, client, method, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var responseObj T
	if err := json.NewDecoder(resp.Body).Decode(&responseObj); err != nil {
		return nil, fmt.Errorf("%v. %w", resp.Status, err)
	}
	response = &responseObj
	return
}

// PostJSON sends 'body' as JSON, and discards the response body.
func PostJSON(ctx context.Context, client *http.Client, url string, body any) error {
	resp, err := send(ctx, client, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func send(ctx context.Context, client *http.Client, method, url string, body any) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	var reader io.Reader
	if body != nil {
		bodyB, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(bodyB)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%v. %v", resp.Status, string(msg))
	}
	return resp, nil
}
