package httpfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/latticefact/runtime/internal/facts"
)

type loadRequest struct {
	References []facts.Reference `json:"references"`
}

type loadResponse struct {
	Facts []facts.Envelope `json:"facts"`
}

// Load fetches the envelopes for refs via POST /load.
func (c *Client) Load(ctx context.Context, refs []facts.Reference) ([]facts.Envelope, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(loadRequest{References: refs})
	if err != nil {
		return nil, fmt.Errorf("httpfetch: marshal load request: %w", err)
	}

	resp, err := c.do(ctx, "POST", "/load", bytesReaderFunc(body), map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}, c.cfg.PostTimeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: read load response: %w", err)
	}
	var out loadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("httpfetch: decode load response: %w", err)
	}
	return out.Facts, nil
}

// WhichExist reports which of refs are already known to the server. §6 has
// no dedicated whichExist endpoint, so this is implemented atop Load: refs
// that come back resolved are present, the rest are not.
func (c *Client) WhichExist(ctx context.Context, refs []facts.Reference) ([]facts.Reference, error) {
	envs, err := c.Load(ctx, refs)
	if err != nil {
		return nil, err
	}
	present := make(map[facts.Reference]struct{}, len(envs))
	for _, e := range envs {
		present[e.Fact.Reference()] = struct{}{}
	}
	out := make([]facts.Reference, 0, len(present))
	for _, r := range refs {
		if _, ok := present[r]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}
