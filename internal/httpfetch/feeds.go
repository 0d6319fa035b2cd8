package httpfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/latticefact/runtime/internal/facts"
)

type feedsResponse struct {
	Feeds []string `json:"feeds"`
}

// Feeds decomposes description (a feed builder's stable textual
// specification description, C6) into feed strings via POST /feeds.
func (c *Client) Feeds(ctx context.Context, description string) ([]string, error) {
	body, err := json.Marshal(description)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: marshal feeds request: %w", err)
	}
	resp, err := c.do(ctx, "POST", "/feeds", bytesReaderFunc(body), map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}, c.cfg.PostTimeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: read feeds response: %w", err)
	}
	var out feedsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("httpfetch: decode feeds response: %w", err)
	}
	return out.Feeds, nil
}

// FeedPage is one page of fact-reference tuples returned from GET
// /feeds/<feed>, paired with the next bookmark to request.
type FeedPage struct {
	References []facts.Reference `json:"references"`
	Bookmark   string            `json:"bookmark"`
}

// FeedPage fetches a single page for feedStr at bookmark via GET
// /feeds/<feed>?b=<bookmark>.
func (c *Client) FeedPage(ctx context.Context, feedStr, bookmark string) (*FeedPage, error) {
	path := "/feeds/" + url.PathEscape(feedStr) + "?b=" + url.QueryEscape(bookmark)
	resp, err := c.do(ctx, "GET", path, nil, map[string]string{
		"Accept": "application/json",
	}, c.cfg.GetTimeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: read feed page: %w", err)
	}
	var page FeedPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("httpfetch: decode feed page: %w", err)
	}
	return &page, nil
}
