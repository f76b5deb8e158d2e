// Package scanner submits signer attachments to an HTTP malware-scanning service.
package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avissapr/signflow/internal/ports"
)

// maxResponseSize caps the scanner response; the sanitized file is echoed back in it.
const maxResponseSize = 64 << 20

// Client talks to the scanner:
//
//	POST {url}/scan {"content": "<base64>"}  ->  {"clean": true, "content": "<sanitized base64>"}
type Client struct {
	url    string
	client *http.Client
}

// New creates a scanner client with a per-request timeout.
func New(url string, timeout time.Duration) *Client {
	return &Client{url: url, client: &http.Client{Timeout: timeout}}
}

type scanRequest struct {
	Content string `json:"content"`
}

type scanResponse struct {
	Clean   bool   `json:"clean"`
	Content string `json:"content"`
}

// ValidateIsCleanFile scans one base64 attachment. A file the scanner flags is reported as
// IsValid=false without an error; errors mean the verdict could not be obtained.
func (c *Client) ValidateIsCleanFile(ctx context.Context, base64Content string) (ports.ScanResult, error) {
	body, err := json.Marshal(scanRequest{Content: base64Content})
	if err != nil {
		return ports.ScanResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/scan", bytes.NewReader(body))
	if err != nil {
		return ports.ScanResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return ports.ScanResult{}, fmt.Errorf("scanner unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ports.ScanResult{}, fmt.Errorf("scanner returned %d", resp.StatusCode)
	}

	var out scanResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return ports.ScanResult{}, fmt.Errorf("failed to decode scanner verdict: %w", err)
	}
	if !out.Clean {
		return ports.ScanResult{IsValid: false}, nil
	}
	clean := out.Content
	if clean == "" {
		clean = base64Content
	}
	return ports.ScanResult{IsValid: true, CleanFile: clean}, nil
}
