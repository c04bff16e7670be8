package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	goCache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"repocron/internal/eventbus"
	rtsup "repocron/internal/runtime/supervisor"
	logx "repocron/pkg/logx"
)

var ErrDisabled = errors.New("notifier disabled")

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Config struct {
	Enabled bool
	// OnlyFailures drops summaries of runs that completed without failed items.
	OnlyFailures bool
	RatePerSec   float64       // 0 means 1
	RetryMax     int           // 0 means 3
	DedupWindow  time.Duration // 0 means 10m
	QueueSize    int           // 0 means 64
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	sender  Sender
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter
	dedup   *goCache.Cache

	sup   *rtsup.Supervisor
	unsub func()
	sent  int
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 10 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Service{
		cfg:     cfg,
		sender:  sender,
		bus:     bus,
		log:     log.With(logx.Component("notifier")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		dedup:   goCache.New(cfg.DedupWindow, 2*cfg.DedupWindow),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.sender != nil && s.bus != nil
}

// Sent returns how many summaries were delivered.
func (s *Service) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Start subscribes to run events. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	ch, unsub := s.bus.Subscribe(s.cfg.QueueSize, eventbus.TypeRunFinished)
	s.unsub = unsub
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// delivery is best-effort and must never stop the scheduler.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("deliver", func(c context.Context) error {
		return s.loop(c, ch)
	}, rtsup.WithPublishFirstError(true))
	s.log.Info("notifier started", logx.Bool("only_failures", s.cfg.OnlyFailures))
}

// Stop unsubscribes and waits for the delivery loop until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, unsub := s.sup, s.unsub
	s.sup, s.unsub = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	unsub()
	_ = sup.Stop(ctx)
}

func (s *Service) loop(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return context.Canceled
			}
			re, ok := ev.Data.(eventbus.RunEvent)
			if !ok || !s.wants(re) {
				continue
			}
			if err := s.Notify(ctx, FormatRun(re)); err != nil && ctx.Err() == nil {
				s.log.Warn("run summary not delivered", logx.Run(re.RunID), logx.Err(err))
			}
		}
	}
}

func (s *Service) wants(re eventbus.RunEvent) bool {
	if !s.cfg.OnlyFailures {
		return true
	}
	return re.Status == "failed" || re.ItemsFailed > 0
}

// Notify sends text unless an identical message went out inside the dedup
// window.
func (s *Service) Notify(ctx context.Context, text string) error {
	if s.sender == nil {
		return ErrDisabled
	}
	key := dedupKey(text)
	if err := s.dedup.Add(key, struct{}{}, goCache.DefaultExpiration); err != nil {
		s.log.Debug("duplicate summary suppressed")
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(s.cfg.RetryMax)), ctx)
	err := backoff.RetryNotify(func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return s.sender.Send(cctx, text)
	}, bo, func(err error, wait time.Duration) {
		s.log.Debug("send failed; retrying", logx.Err(err), logx.Duration("wait", wait))
	})
	if err != nil {
		// Allow a later identical message to try again.
		s.dedup.Delete(key)
		return err
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	return nil
}

func newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = time.Minute
	return bo
}

func dedupKey(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}

// FormatRun renders a run summary as Telegram HTML.
func FormatRun(re eventbus.RunEvent) string {
	icon := "✅"
	if re.Status == "failed" {
		icon = "❌"
	} else if re.ItemsFailed > 0 {
		icon = "⚠️"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b> on <code>%s</code>: %s\n",
		icon, html.EscapeString(re.JobName), html.EscapeString(re.RepoID), html.EscapeString(re.Status))
	fmt.Fprintf(&b, "found %d, processed %d, skipped %d, failed %d",
		re.ItemsFound, re.ItemsProcessed, re.ItemsSkipped, re.ItemsFailed)
	if re.Manual {
		b.WriteString(" (manual)")
	}
	if e := strings.TrimSpace(re.Error); e != "" {
		if len(e) > 300 {
			e = e[:300] + "..."
		}
		fmt.Fprintf(&b, "\n<pre>%s</pre>", html.EscapeString(e))
	}
	fmt.Fprintf(&b, "\nrun <code>%s</code>", html.EscapeString(re.RunID))
	return b.String()
}
