package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client calls a running daemon's ops endpoints.
type Client struct {
	http  *retryablehttp.Client
	base  string
	token string
}

// NewClient targets the server configured by cfg. Wildcard listen hosts are
// dialed on loopback.
func NewClient(cfg Config) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.RetryWaitMin = 200 * time.Millisecond
	hc.RetryWaitMax = time.Second
	hc.HTTPClient.Timeout = 30 * time.Second
	hc.Logger = nil
	// Any reply means the daemon decided; only transport failures are retried.
	hc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err == nil {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return &Client{http: hc, base: "http://" + DialAddr(cfg.Addr), token: strings.TrimSpace(cfg.Token)}
}

// DialAddr turns a listen address into one a local client can dial.
func DialAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = DefaultAddr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// Trigger asks the daemon to start jobID in repoID and decodes the started
// run into out. A refusal yields a *StatusError with the daemon's code.
func (c *Client) Trigger(ctx context.Context, repoID, jobID string, out any) error {
	u := c.base + "/jobs/" + url.PathEscape(repoID) + "/" + url.PathEscape(jobID) + "/trigger"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusAccepted {
		var body struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &body) != nil || body.Code == "" {
			body.Code, body.Error = "internal", strings.TrimSpace(string(b))
		}
		return &StatusError{Status: resp.StatusCode, Code: body.Code, Err: errors.New(body.Error)}
	}
	return json.Unmarshal(b, out)
}
