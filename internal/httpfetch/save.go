package httpfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/latticefact/runtime/internal/facts"
	"github.com/latticefact/runtime/internal/graphcodec"
)

// GraphStreamContentType is the media type for the wire graph encoding
// C11 and C14 share, distinct from plain application/json bodies.
const GraphStreamContentType = "application/x-jinaga-graph-v1"

// Save posts envelopes to POST /save as a plain JSON array. Use SaveGraph
// for the more compact graph-stream encoding.
func (c *Client) Save(ctx context.Context, envelopes []facts.Envelope) error {
	body, err := json.Marshal(envelopes)
	if err != nil {
		return fmt.Errorf("httpfetch: marshal save request: %w", err)
	}
	resp, err := c.do(ctx, "POST", "/save", bytesReaderFunc(body), map[string]string{
		"Content-Type": "application/json",
	}, c.cfg.PostTimeout)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// SaveGraph posts envelopes to POST /save encoded with graphcodec, sharing
// the predecessor-index compaction the WebSocket transport uses for graph
// lines rather than repeating full references per fact.
func (c *Client) SaveGraph(ctx context.Context, envelopes []facts.Envelope) error {
	var buf bytes.Buffer
	enc := graphcodec.NewEncoder(&buf)
	if err := enc.EncodeAll(envelopes); err != nil {
		return fmt.Errorf("httpfetch: encode graph stream: %w", err)
	}

	body := buf.Bytes()
	resp, err := c.do(ctx, "POST", "/save", bytesReaderFunc(body), map[string]string{
		"Content-Type": GraphStreamContentType,
	}, c.cfg.PostTimeout)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
