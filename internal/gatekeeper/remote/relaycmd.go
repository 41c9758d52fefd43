package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RelayCommand is one remotely requested relay override.
type RelayCommand struct {
	ID     string `json:"id"`
	Relay  int    `json:"relay"`
	Action string `json:"action"`
}

// CommandSource polls the central endpoint for relay overrides issued
// while the gate was offline or from the remote dashboard.
type CommandSource struct {
	url    string
	apiKey string
	client *http.Client
}

func NewCommandSource(url, apiKey string, timeout time.Duration) *CommandSource {
	return &CommandSource{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Pending fetches the commands not yet acknowledged by this gate.
func (s *CommandSource) Pending(ctx context.Context) ([]RelayCommand, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build command request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll relay commands: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("poll relay commands: unexpected status %d", resp.StatusCode)
	}

	var cmds []RelayCommand
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&cmds); err != nil {
		return nil, fmt.Errorf("decode relay commands: %w", err)
	}
	return cmds, nil
}

// Ack reports that a command has been applied so it is not redelivered.
func (s *CommandSource) Ack(ctx context.Context, id string) error {
	body, _ := json.Marshal(map[string]string{"id": id})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ack relay command %s: %w", id, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ack relay command %s: unexpected status %d", id, resp.StatusCode)
	}
	return nil
}
