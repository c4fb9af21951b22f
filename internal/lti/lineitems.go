// internal/lti/lineitems.go
package lti

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ===== Models (per IMS AGS 2.0, trimmed to what we use) =====

type LineItem struct {
	ID             string  `json:"id,omitempty"` // absolute URL for this line item
	ScoreMaximum   float64 `json:"scoreMaximum,omitempty"`
	Label          string  `json:"label,omitempty"`
	ResourceID     string  `json:"resourceId,omitempty"`
	ResourceLinkID string  `json:"resourceLinkId,omitempty"`
	Tag            string  `json:"tag,omitempty"`
}

type Result struct {
	ID            string   `json:"id,omitempty"`
	UserID        string   `json:"userId,omitempty"`
	ResultScore   *float64 `json:"resultScore,omitempty"`
	ResultMaximum *float64 `json:"resultMaximum,omitempty"`
	Comment       string   `json:"comment,omitempty"`
	Timestamp     string   `json:"timestamp,omitempty"`
}

// LineItemClient talks to a platform's AGS line-item container. Tokens come
// from the shared broker, so platform credentials never live here.
type LineItemClient struct {
	Tokens AccessTokenSource
	HTTP   *http.Client
}

func NewLineItemClient(tokens AccessTokenSource) *LineItemClient {
	return &LineItemClient{Tokens: tokens, HTTP: &http.Client{Timeout: 15 * time.Second}}
}

// ListLineItems GETs the line items published at lineItemsURL, optionally
// filtered by resource link.
func (c *LineItemClient) ListLineItems(ctx context.Context, issuer, lineItemsURL, resourceLinkID string) ([]LineItem, error) {
	if lineItemsURL == "" {
		return nil, errors.New("missing lineItemsURL")
	}
	tok, err := c.Tokens.AccessToken(ctx, issuer, ScopeLineItemReadonly)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(lineItemsURL)
	if err != nil {
		return nil, fmt.Errorf("bad lineItemsURL: %w", err)
	}
	if resourceLinkID != "" {
		q := u.Query()
		q.Set("resource_link_id", resourceLinkID)
		u.RawQuery = q.Encode()
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/vnd.ims.lis.v2.lineitemcontainer+json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, httpErr("list line items", resp)
	}
	var out []LineItem
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateLineItem POSTs a new line item and returns the created item.
func (c *LineItemClient) CreateLineItem(ctx context.Context, issuer, lineItemsURL string, li LineItem) (LineItem, error) {
	if lineItemsURL == "" {
		return LineItem{}, errors.New("missing lineItemsURL")
	}
	if li.ScoreMaximum <= 0 {
		return LineItem{}, errors.New("scoreMaximum required and > 0")
	}
	tok, err := c.Tokens.AccessToken(ctx, issuer, ScopeLineItem)
	if err != nil {
		return LineItem{}, err
	}
	body, _ := json.Marshal(li)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, lineItemsURL, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/vnd.ims.lis.v2.lineitem+json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return LineItem{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return LineItem{}, httpErr("create line item", resp)
	}
	var out LineItem
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return LineItem{}, err
	}
	return out, nil
}

// GetResults reads the results posted against a line item, optionally for a
// single platform user.
func (c *LineItemClient) GetResults(ctx context.Context, issuer, lineItemURL, userID string) ([]Result, error) {
	if lineItemURL == "" {
		return nil, errors.New("missing lineItemURL")
	}
	tok, err := c.Tokens.AccessToken(ctx, issuer, ScopeResultReadonly)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimRight(lineItemURL, "/") + "/results")
	if err != nil {
		return nil, fmt.Errorf("bad lineItemURL: %w", err)
	}
	if userID != "" {
		q := u.Query()
		q.Set("user_id", userID)
		u.RawQuery = q.Encode()
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/vnd.ims.lis.v2.resultcontainer+json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, httpErr("get results", resp)
	}
	var out []Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func httpErr(op string, resp *http.Response) error {
	return fmt.Errorf("%s: platform returned %s", op, resp.Status)
}
