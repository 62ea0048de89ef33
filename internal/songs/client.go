package songs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client streams songs from a remote service at GET {base}/{query}.
type Client struct {
	http *http.Client
	base string
}

func NewClient(httpClient *http.Client, base string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, base: strings.TrimRight(base, "/")}
}

// Open starts the download; the caller must close the returned body.
func (c *Client) Open(ctx context.Context, query string) (io.ReadCloser, error) {
	if query == "" {
		query = Random
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/"+url.PathEscape(query), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get song: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, query)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("get song: %s", resp.Status)
	}

	return resp.Body, nil
}
