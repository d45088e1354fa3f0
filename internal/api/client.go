package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(addr string) *Client {
	return &Client{
		BaseURL: "http://" + addr,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get("/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SubmitCommand(req CommandRequest) error {
	return c.post("/commands", req, nil)
}

func (c *Client) RegisterType(req RegisterTypeRequest) error {
	return c.post("/types", req, nil)
}

func (c *Client) RemoveType(agentType string) error {
	return c.do(http.MethodDelete, fmt.Sprintf("/types/%s", agentType), nil, nil)
}

func (c *Client) ClearUnhealthy(agentType string) error {
	return c.post(fmt.Sprintf("/types/%s/clear-unhealthy", agentType), nil, nil)
}

func (c *Client) Publish(req PublishRequest) error {
	return c.post("/publish", req, nil)
}

func (c *Client) get(path string, result interface{}) error {
	return c.do(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, payload, result interface{}) error {
	return c.do(http.MethodPost, path, payload, result)
}

func (c *Client) do(method, path string, payload, result interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
	}

	if result != nil {
		return json.Unmarshal(respBody, result)
	}
	return nil
}
