package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"dialer-platform/internal/config"
)

// ErrOriginateTimeout reports that the switch did not accept an origination
// request within the configured deadline.
var ErrOriginateTimeout = errors.New("telephony: originate timed out")

// ARIClient talks to an Asterisk REST Interface over HTTP with basic auth.
// It implements Gateway.
type ARIClient struct {
	baseURL  string
	username string
	password string
	app      string
	trunk    string
	timeout  time.Duration

	httpClient *http.Client
}

// NewARIClient builds an ARI gateway from config. The shared http.Client
// carries a transport-level timeout as a backstop; per-call deadlines come
// from the caller's context.
func NewARIClient(cfg config.ARIConfig) *ARIClient {
	return &ARIClient{
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		app:      cfg.App,
		trunk:    cfg.Trunk,
		timeout:  cfg.OriginateTimeout,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type originateRequest struct {
	Endpoint string `json:"endpoint"`
	App      string `json:"app"`
	CallerID string `json:"callerId,omitempty"`
	Timeout  int    `json:"timeout"`
}

type channelResponse struct {
	ID string `json:"id"`
}

// Originate dials PJSIP/<number>@<trunk> into the Stasis app and returns the
// channel id assigned by the switch.
func (c *ARIClient) Originate(ctx context.Context, phoneNumber, callerID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := originateRequest{
		Endpoint: fmt.Sprintf("PJSIP/%s@%s", phoneNumber, c.trunk),
		App:      c.app,
		CallerID: callerID,
		Timeout:  int(c.timeout.Seconds()),
	}

	var resp channelResponse
	if err := c.do(ctx, http.MethodPost, "/ari/channels", body, &resp); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrOriginateTimeout
		}
		return "", fmt.Errorf("originate %s: %w", phoneNumber, err)
	}
	if resp.ID == "" {
		return "", errors.New("telephony: switch returned empty channel id")
	}
	return resp.ID, nil
}

type bridgeRequest struct {
	Type string `json:"type"`
}

type bridgeResponse struct {
	ID string `json:"id"`
}

type bridgeAddRequest struct {
	Channel string `json:"channel"`
}

// Bridge creates a mixing bridge and adds both channels to it.
func (c *ARIClient) Bridge(ctx context.Context, channelA, channelB string) error {
	var br bridgeResponse
	if err := c.do(ctx, http.MethodPost, "/ari/bridges", bridgeRequest{Type: "mixing"}, &br); err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}
	path := fmt.Sprintf("/ari/bridges/%s/addChannel", url.PathEscape(br.ID))
	for _, ch := range []string{channelA, channelB} {
		if err := c.do(ctx, http.MethodPost, path, bridgeAddRequest{Channel: ch}, nil); err != nil {
			return fmt.Errorf("add channel %s to bridge: %w", ch, err)
		}
	}
	return nil
}

// Hangup tears down a channel. A 404 from the switch means the channel is
// already gone, which counts as success.
func (c *ARIClient) Hangup(ctx context.Context, channelID string) error {
	path := fmt.Sprintf("/ari/channels/%s", url.PathEscape(channelID))
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("hangup %s: %w", channelID, err)
	}
	return nil
}

type recordingRequest struct {
	Name               string `json:"name"`
	Format             string `json:"format"`
	MaxDurationSeconds int    `json:"maxDurationSeconds"`
	TerminateOn        string `json:"terminateOn"`
	Beep               bool   `json:"beep"`
}

type recordingResponse struct {
	Name string `json:"name"`
}

// StartRecording begins a live wav recording on the channel and returns the
// recording name for later stop calls.
func (c *ARIClient) StartRecording(ctx context.Context, channelID string) (string, error) {
	path := fmt.Sprintf("/ari/channels/%s/record", url.PathEscape(channelID))
	req := recordingRequest{
		Name:               fmt.Sprintf("call-%s-%d", channelID, time.Now().UnixMilli()),
		Format:             "wav",
		MaxDurationSeconds: 3600,
		TerminateOn:        "none",
		Beep:               false,
	}
	var resp recordingResponse
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", fmt.Errorf("start recording on %s: %w", channelID, err)
	}
	if resp.Name == "" {
		resp.Name = req.Name
	}
	return resp.Name, nil
}

// StopRecording stops a live recording and keeps the file.
func (c *ARIClient) StopRecording(ctx context.Context, recordingRef string) error {
	path := fmt.Sprintf("/ari/recordings/live/%s/stop", url.PathEscape(recordingRef))
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("stop recording %s: %w", recordingRef, err)
	}
	return nil
}

// statusError carries an unexpected HTTP status from the switch.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("telephony: switch returned %d: %s", e.code, e.body)
}

func (c *ARIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
