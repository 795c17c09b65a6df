// Package gp51 is the outbound adapter for the GP51 telemetry web API.
package gp51

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/internal/pkg/metrics"
	"github.com/autopeer-io/fleetsync/pkg/log"
	"github.com/autopeer-io/fleetsync/pkg/options"
)

// DefaultSessionTTL is the lifetime assumed for a token, since login does not report one.
const DefaultSessionTTL = 23 * time.Hour

var _ core.Provider = (*Client)(nil)

// Client talks to the GP51 web API. Calls are paced by a token bucket.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	clock      clock.PassiveClock
	sessionTTL time.Duration
	logger     log.Logger
}

// NewClient builds a client from opts. A nil clk uses the wall clock.
func NewClient(opts *options.GP51Options, clk clock.PassiveClock) *Client {
	if clk == nil {
		clk = clock.RealClock{}
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    opts.BaseURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst),
		clock:      clk,
		sessionTTL: DefaultSessionTTL,
		logger:     log.WithName("gp51"),
	}
}

// HashPassword returns the hex MD5 digest GP51 expects in place of the password.
func HashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

func (c *Client) Authenticate(ctx context.Context, creds model.Credentials) (core.AuthResult, error) {
	var resp loginResponse
	err := c.call(ctx, actionLogin, "", loginRequest{
		Username: creds.Username,
		Password: creds.PasswordHash,
		From:     "web",
		Type:     "USER",
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Status != statusOK || resp.Token == "" {
		return core.AuthErr{Status: resp.Status, Cause: resp.Cause}, nil
	}

	now := c.clock.Now()
	return core.AuthOK{Session: model.Session{
		Token:     resp.Token,
		Owner:     creds.Username,
		BaseURL:   c.baseURL,
		CreatedAt: now,
		ExpiresAt: now.Add(c.sessionTTL),
	}}, nil
}

func (c *Client) FetchPositions(ctx context.Context, deviceIDs []string, token string) (core.FetchResult, error) {
	var resp lastPositionResponse
	if err := c.call(ctx, actionLastPosition, token, lastPositionRequest{DeviceIDs: deviceIDs}, &resp); err != nil {
		return nil, err
	}

	if resp.Status != statusOK {
		kind := core.KindAPI
		if resp.tokenRejected() {
			kind = core.KindAuthentication
		}
		return core.FetchErr{Status: resp.Status, Cause: resp.Cause, Kind: kind}, nil
	}

	fixes := make([]model.PositionFix, 0, len(resp.Records))
	for _, r := range resp.Records {
		if r.DeviceID == "" {
			continue
		}
		fixes = append(fixes, r.toFix())
	}
	return core.FetchOK{Records: fixes}, nil
}

func (c *Client) TestConnectivity(ctx context.Context, token string) error {
	var resp envelope
	if err := c.call(ctx, actionQueryMonitorList, token, monitorListRequest{}, &resp); err != nil {
		return err
	}

	if resp.Status != statusOK {
		kind := core.KindAPI
		if resp.tokenRejected() {
			kind = core.KindAuthentication
		}
		return core.Errorf(kind, actionQueryMonitorList, "status %d: %s", resp.Status, resp.Cause)
	}
	return nil
}

// call posts body as JSON to ?action=<action>&token=<token> and decodes the reply into out.
func (c *Client) call(ctx context.Context, action, token string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return core.NewError(core.KindConnectivity, action, err)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return core.NewError(core.KindAPI, action, err)
	}
	q := u.Query()
	q.Set("action", action)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	payload, err := json.Marshal(body)
	if err != nil {
		return core.NewError(core.KindAPI, action, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return core.NewError(core.KindAPI, action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ProviderRequestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	if err != nil {
		return core.NewError(core.KindConnectivity, action, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.Errorf(core.KindAuthentication, action, "http %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return core.Errorf(core.KindConnectivity, action, "http %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return core.Errorf(core.KindAPI, action, "http %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return core.NewError(core.KindConnectivity, action, fmt.Errorf("read response: %w", err))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return core.NewError(core.KindAPI, action, fmt.Errorf("decode response: %w", err))
	}

	c.logger.Debug("Provider call completed", "action", action, "took", time.Since(start))
	return nil
}
