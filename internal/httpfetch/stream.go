package httpfetch

import (
	"bufio"
	"context"
	"encoding/json"
	"net/url"

	"github.com/latticefact/runtime/internal/facts"
	"github.com/latticefact/runtime/internal/subscription"
)

type streamLine struct {
	References []facts.Reference `json:"references"`
	Bookmark   string            `json:"bookmark"`
}

// Stream opens GET /feeds/<feed>/stream?b=<bookmark> and decodes its NDJSON
// body into StreamChunk values, one per line, until ctx is cancelled or the
// body ends. It is the HTTP fallback for C11's WebSocket transport and
// satisfies subscription.Network.
func (c *Client) Stream(ctx context.Context, feedStr, bookmark string) (<-chan subscription.StreamChunk, error) {
	path := "/feeds/" + url.PathEscape(feedStr) + "/stream?b=" + url.QueryEscape(bookmark)
	resp, err := c.doStream(ctx, "GET", path, map[string]string{
		"Accept": "application/x-ndjson",
	})
	if err != nil {
		return nil, err
	}

	out := make(chan subscription.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var sl streamLine
			if err := json.Unmarshal(line, &sl); err != nil {
				continue
			}
			chunk := subscription.StreamChunk{Bookmark: sl.Bookmark, Refs: sl.References}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
