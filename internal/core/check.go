package core

import (
	"context"
	"errors"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/zerolog"

	"github.com/seqre-contrib/release-plz/client"
)

// pollInterval is the fixed pause between publication checks. Variable so
// tests can shorten it.
var pollInterval = 2 * time.Second

// errNotPublishedYet signals a clean "absent, poll again" result inside the
// retry loop. It never escapes WaitUntilPublished.
var errNotPublishedYet = errors.New("package not published yet")

// CheckOptions bounds a publication check.
type CheckOptions struct {
	// CheckTimeout bounds one index lookup.
	CheckTimeout time.Duration

	// WaitTimeout bounds the whole polling loop in WaitUntilPublished.
	WaitTimeout time.Duration

	// Token authenticates sparse index requests, when present.
	Token client.Token

	// Logger receives the one-time waiting notice. When nil, logging is
	// disabled.
	Logger *zerolog.Logger
}

func (o CheckOptions) log() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	return zerolog.Nop()
}

// IsPublished reports whether ref is visible in the index, bounding the
// lookup to timeout. An overrun surfaces as a TimeoutError; the in-flight
// lookup is abandoned, its context having been cancelled.
func IsPublished(ctx context.Context, idx Index, ref Ref, timeout time.Duration, token client.Token) (bool, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		present bool
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		present, err := idx.Lookup(lookupCtx, ref, token)
		ch <- result{present: present, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				return false, &TimeoutError{Name: ref.Name, Timeout: timeout}
			}
			return false, res.err
		}
		return res.present, nil
	case <-lookupCtx.Done():
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, &TimeoutError{Name: ref.Name, Timeout: timeout}
	}
}

// WaitUntilPublished polls the index until ref is visible or
// opts.WaitTimeout elapses, pausing a fixed interval between checks. The
// first time a check comes back absent, a one-time informational notice is
// logged. Hard errors from a check abort the loop immediately; only an
// explicit "absent" result is retried.
func WaitUntilPublished(ctx context.Context, idx Index, ref Ref, opts CheckOptions) error {
	log := opts.log()

	waitCtx, cancel := context.WithTimeout(ctx, opts.WaitTimeout)
	defer cancel()

	logged := false
	operation := func() error {
		published, err := IsPublished(ctx, idx, ref, opts.CheckTimeout, opts.Token)
		if err != nil {
			return backoff.Permanent(err)
		}
		if published {
			return nil
		}
		if !logged {
			log.Info().Str("package", ref.Name).Msg("waiting for the package to be published...")
			logged = true
		}
		return errNotPublishedYet
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.NewConstantBackOff(pollInterval), waitCtx))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, errNotPublishedYet) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Name: ref.Name, Timeout: opts.WaitTimeout, Wait: true}
	}
	return err
}
