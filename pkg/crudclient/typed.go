package crudclient

import (
	"context"
	"net/http"
)

// Do performs a call and decodes the JSON response into T. A response
// that fails to decode is a failure of the call and is reported like any
// other.
func Do[T any](ctx context.Context, c *Client, method, path string, body any, opts *RequestOptions) (T, error) {
	var out T

	_, err := c.request(ctx, method, path, body, opts, func(resp *Response) error {
		return resp.Decode(&out)
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return out, nil
}

// Get fetches path and decodes the result.
func Get[T any](ctx context.Context, c *Client, path string, opts *RequestOptions) (T, error) {
	return Do[T](ctx, c, http.MethodGet, path, nil, opts)
}

// Post creates a resource and decodes the result.
func Post[T any](ctx context.Context, c *Client, path string, body any, opts *RequestOptions) (T, error) {
	return Do[T](ctx, c, http.MethodPost, path, body, opts)
}

// Put replaces a resource and decodes the result.
func Put[T any](ctx context.Context, c *Client, path string, body any, opts *RequestOptions) (T, error) {
	return Do[T](ctx, c, http.MethodPut, path, body, opts)
}

// Patch updates a resource and decodes the result.
func Patch[T any](ctx context.Context, c *Client, path string, body any, opts *RequestOptions) (T, error) {
	return Do[T](ctx, c, http.MethodPatch, path, body, opts)
}

// Delete removes a resource.
func (c *Client) Delete(ctx context.Context, path string, opts *RequestOptions) error {
	_, err := c.Request(ctx, http.MethodDelete, path, nil, opts)
	return err
}
