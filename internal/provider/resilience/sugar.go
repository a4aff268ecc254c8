package resilience

import (
	"context"
	"net/http"
	"net/url"
)

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	return c.Request(ctx, endpoint, RequestOptions{Method: http.MethodGet, Query: query})
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Request(ctx, endpoint, RequestOptions{Method: http.MethodPost, Body: body})
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Request(ctx, endpoint, RequestOptions{Method: http.MethodPut, Body: body})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, endpoint string) (*Response, error) {
	return c.Request(ctx, endpoint, RequestOptions{Method: http.MethodDelete})
}

// GetJSON issues a GET request and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	return decodeInto(c.Get(ctx, endpoint, query))(out)
}

// PostJSON issues a POST request and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body, out any) error {
	return decodeInto(c.Post(ctx, endpoint, body))(out)
}

// PutJSON issues a PUT request and decodes the response into out.
func (c *Client) PutJSON(ctx context.Context, endpoint string, body, out any) error {
	return decodeInto(c.Put(ctx, endpoint, body))(out)
}

// DeleteJSON issues a DELETE request and decodes the response into out.
func (c *Client) DeleteJSON(ctx context.Context, endpoint string, out any) error {
	return decodeInto(c.Delete(ctx, endpoint))(out)
}

func decodeInto(resp *Response, err error) func(out any) error {
	return func(out any) error {
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		return resp.DecodeJSON(out)
	}
}
