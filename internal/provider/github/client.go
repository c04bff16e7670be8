// Package github lists issues and pull requests through the GitHub REST API.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"repocron/internal/domain"
	logx "repocron/pkg/logx"
)

const (
	DefaultBaseURL = "https://api.github.com"
	perPage        = 100
	// maxPages bounds a listing so a huge backlog cannot stall a run.
	maxPages = 10
)

// ErrRateLimited is returned when GitHub keeps rejecting requests for quota.
var ErrRateLimited = errors.New("github rate limit exceeded")

type Options struct {
	Token      string
	BaseURL    string
	Timeout    time.Duration // per request; 0 means 30s
	RatePerSec int           // client-side cap; 0 means 5
	RetryMax   int           // transport/5xx retries; 0 means 3
	// RateLimitWait bounds how long a listing waits out 403/429 quota errors.
	RateLimitWait time.Duration
}

// Client implements the data provider contract against GitHub.
type Client struct {
	http    *retryablehttp.Client
	base    *url.URL
	token   string
	limiter *rate.Limiter
	rlWait  time.Duration
	log     logx.Logger
}

func New(opts Options, log logx.Logger) (*Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("github base_url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 3
	}
	if opts.RateLimitWait <= 0 {
		opts.RateLimitWait = 2 * time.Minute
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = opts.RetryMax
	hc.RetryWaitMin = 500 * time.Millisecond
	hc.RetryWaitMax = 10 * time.Second
	hc.HTTPClient.Timeout = opts.Timeout
	hc.Logger = nil
	hc.CheckRetry = quotaAwareRetry
	hc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			log.Debug("github request retry", logx.String("path", req.URL.Path), logx.Int("attempt", attempt))
		}
	}

	return &Client{
		http:    hc,
		base:    base,
		token:   strings.TrimSpace(opts.Token),
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		rlWait:  opts.RateLimitWait,
		log:     log.With(logx.Component("github")),
	}, nil
}

type apiLabel struct {
	Name string `json:"name"`
}

type apiIssue struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Body        *string    `json:"body"`
	Labels      []apiLabel `json:"labels"`
	PullRequest *struct{}  `json:"pull_request"`
}

type apiPull struct {
	Number int        `json:"number"`
	Title  string     `json:"title"`
	Body   *string    `json:"body"`
	Labels []apiLabel `json:"labels"`
	Head   struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

// ListIssues lists issues (never pull requests) in state carrying all labels.
func (c *Client) ListIssues(ctx context.Context, owner, name, state string, labels []string) ([]domain.TargetItem, error) {
	q := url.Values{}
	q.Set("state", normState(state))
	if len(labels) > 0 {
		q.Set("labels", strings.Join(labels, ","))
	}
	var out []domain.TargetItem
	err := c.paginate(ctx, repoPath(owner, name, "issues"), q, func(body []byte) (int, error) {
		var page []apiIssue
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, err
		}
		for _, is := range page {
			if is.PullRequest != nil {
				continue
			}
			out = append(out, domain.TargetItem{
				Type:   domain.ItemIssue,
				Number: is.Number,
				Title:  is.Title,
				Body:   deref(is.Body),
				Labels: labelNames(is.Labels),
			})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list issues %s/%s: %w", owner, name, err)
	}
	return out, nil
}

// ListPRs lists pull requests in state.
func (c *Client) ListPRs(ctx context.Context, owner, name, state string) ([]domain.TargetItem, error) {
	q := url.Values{}
	q.Set("state", normState(state))
	var out []domain.TargetItem
	err := c.paginate(ctx, repoPath(owner, name, "pulls"), q, func(body []byte) (int, error) {
		var page []apiPull
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, err
		}
		for _, pr := range page {
			out = append(out, domain.TargetItem{
				Type:    domain.ItemPR,
				Number:  pr.Number,
				Title:   pr.Title,
				Body:    deref(pr.Body),
				Labels:  labelNames(pr.Labels),
				HeadRef: pr.Head.Ref,
				BaseRef: pr.Base.Ref,
			})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pulls %s/%s: %w", owner, name, err)
	}
	return out, nil
}

// paginate walks rel="next" links, handing each page body to decode.
func (c *Client) paginate(ctx context.Context, path string, q url.Values, decode func([]byte) (int, error)) error {
	q.Set("per_page", strconv.Itoa(perPage))
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = q.Encode()
	next := u.String()

	for page := 0; next != "" && page < maxPages; page++ {
		body, link, err := c.getPage(ctx, next)
		if err != nil {
			return err
		}
		n, err := decode(body)
		if err != nil {
			return fmt.Errorf("decode page %d: %w", page+1, err)
		}
		if n == 0 {
			return nil
		}
		next = nextLink(link)
	}
	return nil
}

// getPage fetches one page, waiting out quota rejections with exponential backoff.
func (c *Client) getPage(ctx context.Context, rawURL string) ([]byte, string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = c.rlWait

	var body []byte
	var link string
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		req.Header.Set("User-Agent", "repocron")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return backoff.Permanent(err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			body, link = b, resp.Header.Get("Link")
			return nil
		case isRateLimited(resp):
			c.log.Warn("github rate limited; backing off",
				logx.String("path", req.URL.Path),
				logx.String("remaining", resp.Header.Get("X-RateLimit-Remaining")),
			)
			return ErrRateLimited
		default:
			return backoff.Permanent(fmt.Errorf("GET %s: status %d: %s", req.URL.Path, resp.StatusCode, snippet(b)))
		}
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, "", err
	}
	return body, link, nil
}

// quotaAwareRetry is retryablehttp's default policy minus 403/429, which
// getPage waits out with its own backoff.
func quotaAwareRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil && resp != nil &&
		(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden) {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden &&
		(resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != "")
}

var reNextLink = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

func nextLink(h string) string {
	if m := reNextLink.FindStringSubmatch(h); len(m) == 2 {
		return m[1]
	}
	return ""
}

func repoPath(owner, name, kind string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name) + "/" + kind
}

func normState(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "closed":
		return "closed"
	case "all":
		return "all"
	default:
		return "open"
	}
}

func labelNames(ls []apiLabel) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Name)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
