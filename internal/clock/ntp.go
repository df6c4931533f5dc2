package clock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"
)

type ntpQueryFunc func(host string, opts ntp.QueryOptions) (*ntp.Response, error)

// NTPAuthority serves local time corrected by the offset measured against an
// NTP server. The offset is refreshed in the background; Now never performs
// I/O. When a refresh fails the previous offset keeps being served.
type NTPAuthority struct {
	server  string
	refresh time.Duration
	timeout time.Duration
	logger  *slog.Logger
	query   ntpQueryFunc
	local   func() time.Time

	offset   atomic.Int64 // nanoseconds
	lastSync atomic.Int64 // unix nanoseconds, 0 = never

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewNTPAuthority creates an authority for server. Call Start to begin syncing.
func NewNTPAuthority(server string, refresh, timeout time.Duration, logger *slog.Logger) *NTPAuthority {
	if logger == nil {
		logger = slog.Default()
	}
	return &NTPAuthority{
		server:  server,
		refresh: refresh,
		timeout: timeout,
		logger:  logger.With("component", "ntp_clock", "server", server),
		query:   ntp.QueryWithOptions,
		local:   time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Now returns the corrected current time in UTC.
func (a *NTPAuthority) Now() time.Time {
	return a.local().Add(time.Duration(a.offset.Load())).UTC()
}

// Offset returns the correction currently applied to the local clock.
func (a *NTPAuthority) Offset() time.Duration {
	return time.Duration(a.offset.Load())
}

// LastSync returns the local time of the last successful sync, or the zero
// time if no sync has succeeded yet.
func (a *NTPAuthority) LastSync() time.Time {
	ns := a.lastSync.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Start performs the initial sync and launches the refresh goroutine. A failed
// initial sync is logged and the local clock is served uncorrected until a
// refresh succeeds. Only the first call has any effect, and a Start after Stop
// does nothing.
func (a *NTPAuthority) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		if err := a.Sync(ctx); err != nil {
			a.logger.Warn("initial NTP sync failed, serving local clock", "error", err)
		}
		go a.loop()
	})
}

// Stop ends the refresh goroutine and waits for it to exit. It is safe to call
// more than once, and without a prior Start.
func (a *NTPAuthority) Stop() {
	a.startOnce.Do(func() {
		close(a.done)
	})
	a.stopOnce.Do(func() {
		close(a.stop)
	})
	<-a.done
}

func (a *NTPAuthority) loop() {
	defer close(a.done)

	ticker := time.NewTicker(a.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
			if err := a.Sync(ctx); err != nil {
				a.logger.Warn("NTP refresh failed, keeping last offset",
					"error", err,
					"offset", a.Offset().String(),
				)
			}
			cancel()
		}
	}
}

// Sync queries the server once and updates the offset on success.
func (a *NTPAuthority) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	resp, err := a.query(a.server, ntp.QueryOptions{Timeout: a.timeout})
	if err != nil {
		return fmt.Errorf("querying %s: %w", a.server, err)
	}
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("invalid response from %s: %w", a.server, err)
	}

	a.offset.Store(int64(resp.ClockOffset))
	a.lastSync.Store(a.local().UnixNano())

	a.logger.Debug("NTP sync succeeded",
		"offset", resp.ClockOffset.String(),
		"rtt", resp.RTT.String(),
		"stratum", resp.Stratum,
	)
	return nil
}
