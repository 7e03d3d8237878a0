package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Settings struct {
	BaseURL string
	Token   string
	Sender  string
	Timeout time.Duration
}

// Client posts messages to the SMS gateway's /messages endpoint.
type Client struct {
	baseURL string
	token   string
	sender  string
	httpc   *http.Client
}

func New(s Settings) *Client {
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(s.BaseURL, "/"),
		token:   s.Token,
		sender:  s.Sender,
		httpc:   &http.Client{Timeout: s.Timeout},
	}
}

type sendRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Text string `json:"text"`
}

func (c *Client) Send(ctx context.Context, phone, text string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return errors.New("sms: empty phone")
	}

	body, err := json.Marshal(sendRequest{From: c.sender, To: phone, Text: text})
	if err != nil {
		return errors.Wrap(err, "marshal sms")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "send sms")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("sms gateway http %d", resp.StatusCode)
	}
	return nil
}
