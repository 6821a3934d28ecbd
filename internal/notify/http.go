package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

// post is the shared helper used by HTTP channels. Any status >= 300 is an error.
func post(ctx context.Context, url, contentType string, body io.Reader, header func(*http.Request)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if header != nil {
		header(req)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}
