// Package client provides a Go client for the tagbook API.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrUsernameTaken is returned by Register when the username already exists.
var ErrUsernameTaken = errors.New("username already taken")

// Client is a tagbook API client. Secret, when set, is sent as the bearer
// credential on every request.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Secret     string
}

// Tag mirrors the server's tag representation.
type Tag struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	WalletAddress string    `json:"walletAddress"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Receipt mirrors the server's receipt representation. Amount stays a string
// so arbitrarily large values round-trip exactly.
type Receipt struct {
	ID        string    `json:"id"`
	Signature string    `json:"signature"`
	Memo      string    `json:"memo"`
	FromTag   string    `json:"fromTag"`
	ToTag     string    `json:"toTag"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// RegisterResult carries the tag and its one-time secret.
type RegisterResult struct {
	Tag    Tag    `json:"tag"`
	Secret string `json:"secret"`
}

// CreateReceiptResult carries the stored receipt and its public URL.
type CreateReceiptResult struct {
	Receipt Receipt `json:"receipt"`
	URL     string  `json:"url"`
}

// ReceiptPage is one page of a receipt listing.
type ReceiptPage struct {
	Receipts   []Receipt `json:"receipts"`
	NextCursor string    `json:"nextCursor"`
}

// New creates a new tagbook client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Register claims a username and returns its one-time secret. The secret is
// not stored anywhere server-side; losing it means losing the tag.
func (c *Client) Register(username, walletAddress string) (*RegisterResult, error) {
	resp, err := c.doRequest(http.MethodPost, "/tags/register", map[string]any{
		"username":      username,
		"walletAddress": walletAddress,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		return nil, ErrUsernameTaken
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}
	var result RegisterResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Lookup fetches a tag by exact username.
func (c *Client) Lookup(username string) (*Tag, error) {
	resp, err := c.doRequest(http.MethodGet, "/tags/"+url.PathEscape(username), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var tag Tag
	if err := json.NewDecoder(resp.Body).Decode(&tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

// UpdateWallet sets the wallet address on the caller's own tag.
func (c *Client) UpdateWallet(walletAddress string) (*Tag, error) {
	resp, err := c.doRequest(http.MethodPatch, "/tags/me", map[string]any{
		"walletAddress": walletAddress,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var tag Tag
	if err := json.NewDecoder(resp.Body).Decode(&tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

// CreateReceipt records a proof between two tags. The caller must be one of
// the parties. Amount is a non-negative integer rendered as a string.
func (c *Client) CreateReceipt(signature, memo, fromTag, toTag, amount string) (*CreateReceiptResult, error) {
	resp, err := c.doRequest(http.MethodPost, "/receipts/create", map[string]any{
		"signature": signature,
		"memo":      memo,
		"fromTag":   fromTag,
		"toTag":     toTag,
		"amount":    amount,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}
	var result CreateReceiptResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListReceipts fetches one page of the caller's receipts, newest first.
// Pass the previous page's NextCursor to continue; an empty NextCursor on
// the result means the listing is exhausted.
func (c *Client) ListReceipts(limit int, cursor string) (*ReceiptPage, error) {
	path := "/receipts/"
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	resp, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var page ReceiptPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetReceipt fetches one receipt by id. Ids the caller is not a party to
// return the same not-found error as missing ids.
func (c *Client) GetReceipt(id string) (*Receipt, error) {
	resp, err := c.doRequest(http.MethodGet, "/receipts/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// UploadObject stores a blob under a restricted key.
func (c *Client) UploadObject(key string, body []byte) error {
	req, err := http.NewRequest(http.MethodPut, c.BaseURL+"/objects/"+key, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// Health reports per-dependency server status.
func (c *Client) Health() (map[string]string, error) {
	resp, err := c.doRequest(http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var status map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *Client) doRequest(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.Secret)
	}
	return c.HTTPClient.Do(req)
}

func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("%s (status %d)", payload.Error, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
