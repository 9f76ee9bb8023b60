package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxCodeSize = 1 << 20

// CodeGeneratorClient asks the code service to encode a url into an image.
// The returned bytes are opaque to this service.
type CodeGeneratorClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewCodeGeneratorClient(baseURL string, timeout time.Duration) *CodeGeneratorClient {
	return &CodeGeneratorClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *CodeGeneratorClient) Generate(ctx context.Context, target string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"url": target})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("code service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("code service returned status %d: %s", resp.StatusCode, msg)
	}

	blob, err := io.ReadAll(io.LimitReader(resp.Body, maxCodeSize+1))
	if err != nil {
		return nil, fmt.Errorf("read code: %w", err)
	}
	if len(blob) == 0 || len(blob) > maxCodeSize {
		return nil, fmt.Errorf("code service returned %d bytes", len(blob))
	}
	return blob, nil
}
