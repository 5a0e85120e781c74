package cirrus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// minRenewalDelay keeps a server that reports an expireTime in the past from
// driving a tight renewal loop.
var minRenewalDelay = time.Second

// Subscription is a long-lived SubscribeRequest kept alive by renewal.
//
// Next yields only SubscribeData envelopes. A renewal failure is reported by
// the next call to Next. Close cancels renewal and releases the watcher.
type Subscription struct {
	session *Session
	request SubscribeRequest
	feed    *Stream

	cancel    context.CancelFunc
	renewDone chan struct{}
	renewErr  error // written before renewDone is closed
	renewals  atomic.Uint64
	expiresAt atomic.Int64

	closeOnce sync.Once
}

// Subscribe issues req and starts renewing it before each expireTime.
//
// The general watch is registered before the request goes out so no data
// pushed right after the reply is lost. Renewal stops when ctx is cancelled,
// the subscription is closed, or a renewal is rejected.
//
// Parameters:
//   - ctx: Bounds the initial request and the lifetime of renewal
//   - req: The subscribe payload, re-sent unchanged on every renewal
//
// Returns:
//   - *Subscription: Active subscription; call Close when done
//   - error: ErrSubscriptionFailed if the server rejects req
func (s *Session) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	feed := s.Watch(s.opts.SubscriptionTimeout)

	resp, err := s.Request(ctx, req, s.opts.RequestTimeout)
	if err != nil {
		feed.Close()
		return nil, fmt.Errorf("%w: %w", ErrSubscriptionFailed, err)
	}
	if err := checkSubscribeResponse(resp); err != nil {
		feed.Close()
		return nil, err
	}

	renewCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		session:   s,
		request:   req,
		feed:      feed,
		cancel:    cancel,
		renewDone: make(chan struct{}),
	}
	sub.expiresAt.Store(resp.ExpireTime)

	go sub.renewLoop(renewCtx, resp.ExpireTime)

	s.logDebug("subscribed",
		"location_id", req.UnitAddress.LocationID,
		"type", req.SubscriptionType.Name,
		"expires_in", renewalDelay(resp.ExpireTime, time.Now()).String(),
	)
	return sub, nil
}

func checkSubscribeResponse(resp *Response) error {
	if !resp.Success() {
		return fmt.Errorf("%w: responseCode %q", ErrSubscriptionFailed, resp.Code())
	}
	if resp.ExpireTime <= 0 {
		return fmt.Errorf("%w: response has no expireTime", ErrSubscriptionFailed)
	}
	return nil
}

// renewalDelay returns the time left until expireMillis, clamped at zero.
func renewalDelay(expireMillis int64, now time.Time) time.Duration {
	delay := time.UnixMilli(expireMillis).Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}

func (sub *Subscription) renewLoop(ctx context.Context, expireMillis int64) {
	defer close(sub.renewDone)

	for {
		delay := renewalDelay(expireMillis, time.Now())
		if delay < minRenewalDelay {
			delay = minRenewalDelay
		}
		sub.session.logDebug("next subscription renewal", "delay", delay.String())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		resp, err := sub.session.Request(ctx, sub.request, sub.session.opts.RequestTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sub.renewErr = fmt.Errorf("%w: renewal: %w", ErrSubscriptionFailed, err)
			return
		}
		if err := checkSubscribeResponse(resp); err != nil {
			sub.renewErr = fmt.Errorf("renewal: %w", err)
			return
		}

		sub.renewals.Add(1)
		sub.expiresAt.Store(resp.ExpireTime)
		expireMillis = resp.ExpireTime
	}
}

// Next returns the next SubscribeData envelope.
//
// It fails with ErrTimeout if no inbound envelope of any type arrives within
// the session's SubscriptionTimeout, with the renewal error once renewal has
// failed, or with the session's terminal error.
func (sub *Subscription) Next(ctx context.Context) (*Response, error) {
	for {
		if err := sub.renewalErr(); err != nil {
			return nil, err
		}

		resp, err := sub.read(ctx)
		if err != nil {
			if renewErr := sub.renewalErr(); renewErr != nil {
				return nil, renewErr
			}
			return nil, err
		}

		if resp.MessageType == TypeSubscribeData {
			return resp, nil
		}
	}
}

// read waits for the next envelope, giving up as soon as renewal stops.
func (sub *Subscription) read(ctx context.Context) (*Response, error) {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-sub.renewDone:
			cancel()
		case <-readCtx.Done():
		}
	}()

	return sub.feed.Next(readCtx)
}

func (sub *Subscription) renewalErr() error {
	select {
	case <-sub.renewDone:
		return sub.renewErr
	default:
		return nil
	}
}

// Renewals returns how many renewals the server has accepted.
func (sub *Subscription) Renewals() uint64 {
	return sub.renewals.Load()
}

// ExpiresAt returns the current server-declared expiry.
func (sub *Subscription) ExpiresAt() time.Time {
	return time.UnixMilli(sub.expiresAt.Load())
}

// Close cancels renewal, waits for it to stop and releases the watcher.
func (sub *Subscription) Close() {
	sub.closeOnce.Do(func() {
		sub.cancel()
		<-sub.renewDone
		sub.feed.Close()
	})
}
