package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/workflow"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the upgradeboard API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// Session fetches the current session view
func (c *Client) Session() (*SessionView, error) {
	var v SessionView
	if err := c.get("/session", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Start dispatches an upgrade
func (c *Client) Start(in workflow.DispatchInputs) error {
	_, err := c.post("/upgrade/start", in)
	return err
}

// Control posts a session transition: pause, resume, reset, next or cancel.
func (c *Client) Control(action string) error {
	_, err := c.post("/upgrade/"+action, nil)
	return err
}

// Logs fetches session logs filtered by level ("" for all)
func (c *Client) Logs(level models.LogLevel) (*LogsView, error) {
	path := "/logs"
	if level != "" {
		path += "?level=" + url.QueryEscape(string(level))
	}
	var v LogsView
	if err := c.get(path, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ExportReport archives a report of the current session
func (c *Client) ExportReport() (*ReportItem, error) {
	body, err := c.post("/reports", nil)
	if err != nil {
		return nil, err
	}
	var item ReportItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListReports lists archived reports
func (c *Client) ListReports() ([]ReportItem, error) {
	var items []ReportItem
	if err := c.get("/reports", &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) get(path string, v any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(jsonData)
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", reader)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", bytes.TrimSpace(body))
	}

	return body, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}

	return health.OK, nil
}
