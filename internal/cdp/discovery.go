package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// discoveryClient bounds each /json/version probe; callers poll it in a loop
var discoveryClient = &http.Client{Timeout: 2 * time.Second}

// VersionInfo is the browser's answer on /json/version
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// GetVersion queries the DevTools HTTP endpoint on host:debugPort
func GetVersion(ctx context.Context, host string, debugPort int) (VersionInfo, error) {
	if host == "" {
		host = "localhost"
	}
	endpoint := "http://" + net.JoinHostPort(host, strconv.Itoa(debugPort)) + "/json/version"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := discoveryClient.Do(req)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("failed to connect to debug port: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return VersionInfo{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var info VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return VersionInfo{}, fmt.Errorf("failed to parse /json/version: %w", err)
	}
	return info, nil
}

// GetWebSocketURL discovers the browser-level WebSocket URL of a debug port
func GetWebSocketURL(ctx context.Context, host string, debugPort int) (string, error) {
	info, err := GetVersion(ctx, host, debugPort)
	if err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", errors.New("no browser WebSocket URL found")
	}
	return info.WebSocketDebuggerURL, nil
}
