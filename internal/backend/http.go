package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/halcyonwood/inkwell/internal/roleplay"
)

func (b *base) postJSON(ctx context.Context, url string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.conn.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.conn.APIKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readErrorBody(resp)
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %s", b.conn.Type, msg)
	}
	return resp, nil
}

func readErrorBody(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return msg
}

func baseURL(conn *roleplay.Connection) string {
	return strings.TrimRight(conn.BaseURL, "/")
}

func probeURL(ctx context.Context, conn *roleplay.Connection, path string) Probe {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(conn)+path, nil)
	if err != nil {
		return Probe{OK: false, Error: err.Error()}
	}
	if conn.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+conn.APIKey)
	}
	client := &http.Client{Timeout: probeTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return Probe{OK: false, Error: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Probe{OK: false, Error: readErrorBody(resp)}
	}
	return Probe{OK: true}
}

func getJSON(ctx context.Context, conn *roleplay.Connection, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(conn)+path, nil)
	if err != nil {
		return err
	}
	if conn.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+conn.APIKey)
	}
	client := &http.Client{Timeout: probeTimeout + time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", conn.Type, readErrorBody(resp))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
