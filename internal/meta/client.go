// Package meta publishes to Facebook Pages and Instagram business accounts
// through the Graph API.
package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"liguns/internal/config"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Options configures a Client. Zero values fall back to Graph defaults.
type Options struct {
	BaseURL     string
	Version     string
	Timeout     time.Duration
	SettleDelay time.Duration
	PollTries   int
	PollPeriod  time.Duration
	RPS         float64
}

func OptionsFromConfig(cfg config.MetaConfig) Options {
	return Options{
		BaseURL:     cfg.GraphBaseURL,
		Version:     cfg.GraphVersion,
		Timeout:     cfg.RequestTimeout,
		SettleDelay: cfg.SettleDelay,
		PollTries:   cfg.ContainerPollTries,
		PollPeriod:  cfg.ContainerPollPeriod,
		RPS:         cfg.RPS,
	}
}

// Client talks to one Graph API version. It holds no per-account state,
// so one instance serves the whole process.
type Client struct {
	http        *http.Client
	endpoint    string
	settleDelay time.Duration
	pollTries   int
	pollPeriod  time.Duration
	limiter     *rate.Limiter
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *zerolog.Logger
}

func NewClient(opts Options, logger *zerolog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://graph.facebook.com"
	}
	if opts.Version == "" {
		opts.Version = "v19.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PollPeriod <= 0 {
		opts.PollPeriod = 2 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	c := &Client{
		http:        &http.Client{Timeout: opts.Timeout},
		endpoint:    strings.TrimRight(opts.BaseURL, "/") + "/" + opts.Version,
		settleDelay: opts.SettleDelay,
		pollTries:   opts.PollTries,
		pollPeriod:  opts.PollPeriod,
		sleep:       sleepContext,
		logger:      logger,
	}
	if opts.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	return c
}

type graphErrorEnvelope struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

// postJSON sends body to path and decodes a 2xx response into out.
// Non-2xx responses become a PublishError carrying the Graph message.
func (c *Client) postJSON(ctx context.Context, platform, phase, path string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", phase, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", phase, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, platform, phase, out)
}

func (c *Client) getJSON(ctx context.Context, platform, phase, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", phase, err)
	}
	return c.do(req, platform, phase, out)
}

func (c *Client) do(req *http.Request, platform, phase string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return transportError(platform, phase, err)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error repeats the request URL, which may carry the access token.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return transportError(platform, phase, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return transportError(platform, phase, err)
	}

	c.logger.Debug().
		Str("platform", platform).
		Str("phase", phase).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("graph api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newPublishError(platform, phase, resp.StatusCode, graphMessage(platform, phase, resp, raw))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newPublishError(platform, phase, resp.StatusCode, fmt.Sprintf("decode %s response: %v", phase, err))
	}
	return nil
}

func graphMessage(platform, phase string, resp *http.Response, raw []byte) string {
	var env graphErrorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Message != "" {
		msg := env.Error.Message
		if env.Error.Type != "" && !strings.Contains(msg, env.Error.Type) {
			msg = env.Error.Type + ": " + msg
		}
		return msg
	}
	return fmt.Sprintf("%s %s failed: %d %s", platform, phase, resp.StatusCode, http.StatusText(resp.StatusCode))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
