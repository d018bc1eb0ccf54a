package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drblury/romeways/connector"
	"github.com/drblury/romeways/internal/runtime/envelope"
	errspkg "github.com/drblury/romeways/internal/runtime/errors"
	loggingpkg "github.com/drblury/romeways/internal/runtime/logging"
)

// clock abstracts time so the drift correction can be driven by tests.
type clock struct {
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func realClock() clock {
	return clock{now: time.Now, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// dispatchOptions carries the collaborators shared by every scheduler of a
// worker.
type dispatchOptions struct {
	logger      loggingpkg.ServiceLogger
	metrics     *DispatchMetrics
	hooks       DispatchHooks
	middlewares []CallbackMiddleware
	clock       clock
}

func (o dispatchOptions) withDefaults() dispatchOptions {
	if o.logger == nil {
		o.logger = loggingpkg.Nop()
	}
	if o.clock.now == nil || o.clock.sleep == nil {
		o.clock = realClock()
	}
	return o
}

// chauffeur polls one connector instance on behalf of one itinerary.
type chauffeur struct {
	connectorName string
	itinerary     Itinerary
	conn          connector.Connector
	callback      Callback
	logger        loggingpkg.ServiceLogger
	metrics       *DispatchMetrics
	hooks         DispatchHooks
	clock         clock

	lastMark time.Time
	marked   bool
}

func newChauffeur(connectorName string, it Itinerary, conn connector.Connector, opts dispatchOptions) *chauffeur {
	opts = opts.withDefaults()
	return &chauffeur{
		connectorName: connectorName,
		itinerary:     it,
		conn:          conn,
		callback:      chainMiddlewares(it.Callback, opts.middlewares),
		logger: opts.logger.With(loggingpkg.LogFields{
			"connector": connectorName,
			"queue":     it.QueueName,
			"callback":  it.CallbackName,
		}),
		metrics: opts.metrics,
		hooks:   opts.hooks,
		clock:   opts.clock,
	}
}

// waitForCycle sleeps so consecutive cycles start Frequency apart. The first
// cycle does not wait. When the previous cycle overran, the wait is zero and a
// warning is logged.
func (c *chauffeur) waitForCycle(ctx context.Context) error {
	var wait time.Duration
	if c.marked {
		frequency := c.itinerary.Config.Frequency
		elapsed := c.clock.now().Sub(c.lastMark)
		wait = frequency - elapsed
		if wait < 0 {
			c.logger.Warn(fmt.Sprintf(
				"The queue handler for connector '%s' and queue '%s' took %s and the frequency is %s",
				c.connectorName, c.itinerary.QueueName, elapsed, frequency,
			), loggingpkg.LogFields{
				"elapsed":   elapsed.String(),
				"frequency": frequency.String(),
			})
			c.metrics.recordOverrun(c.connectorName, c.itinerary.QueueName)
			c.itinerary.stats.recordOverrun()
			wait = 0
		}
	}
	if err := c.clock.sleep(ctx, wait); err != nil {
		return err
	}
	c.lastMark = c.clock.now()
	c.marked = true
	return nil
}

// watch runs the WAIT, PULL, DISPATCH loop until ctx is cancelled or the
// connector fails.
func (c *chauffeur) watch(ctx context.Context) error {
	cfg := c.itinerary.Config
	c.logger.Debug("Starting queue watch", loggingpkg.LogFields{
		"frequency":      cfg.Frequency.String(),
		"max_chunk_size": cfg.MaxChunkSize,
		"sequential":     cfg.Sequential,
	})

	for {
		if err := c.waitForCycle(ctx); err != nil {
			return nil
		}

		started := c.clock.now()
		batch, err := c.conn.GetMessages(ctx, cfg.MaxChunkSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("romeways: pull from queue %q of connector %q: %w", c.itinerary.QueueName, c.connectorName, err)
		}
		c.metrics.observeBatch(c.connectorName, c.itinerary.QueueName, len(batch))

		if err := c.dispatch(ctx, batch); err != nil {
			return err
		}

		duration := c.clock.now().Sub(started)
		c.metrics.observeCycle(c.connectorName, c.itinerary.QueueName, duration)
		c.itinerary.stats.recordCycle(len(batch), duration)
	}
}

func (c *chauffeur) dispatch(ctx context.Context, batch [][]byte) error {
	if len(batch) == 0 {
		return nil
	}

	if c.itinerary.Config.Sequential {
		for _, raw := range batch {
			if ctx.Err() != nil {
				return nil
			}
			if err := c.resolve(ctx, raw); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	for _, raw := range batch {
		g.Go(func() error {
			return c.resolve(ctx, raw)
		})
	}
	return g.Wait()
}

// resolve decodes and dispatches one raw message. Only a failed resend is
// returned; callback failures are logged and swallowed.
func (c *chauffeur) resolve(ctx context.Context, raw []byte) error {
	msg := envelope.Decode(raw)
	dc := DispatchContext{
		ConnectorName: c.connectorName,
		QueueName:     c.itinerary.QueueName,
		CallbackName:  c.itinerary.CallbackName,
		Message:       msg,
		StartedAt:     c.clock.now(),
	}
	dctx := withDispatchContext(ctx, dc)
	dc.Context = dctx

	c.hooks.start(dc)
	err := c.invoke(dctx, msg)
	dc.Duration = c.clock.now().Sub(dc.StartedAt)

	if err == nil {
		c.hooks.done(dc)
		c.record(outcomeSuccess, dc.Duration)
		return nil
	}

	c.hooks.fail(dc, err)
	if errspkg.IsResend(err) && c.itinerary.Config.ResendOnResolveFail {
		c.logger.Error("Callback failed, the message will be resent", err, loggingpkg.LogFields{
			"message": msg.String(),
		})
		c.record(outcomeResent, dc.Duration)
		return c.resend(ctx, dc)
	}

	c.logger.Error("Callback failed", err, nil)
	c.record(outcomeFailed, dc.Duration)
	return nil
}

func (c *chauffeur) invoke(ctx context.Context, msg envelope.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return c.callback(ctx, msg)
}

// resend pushes the message back through the same connector instance with its
// resend count incremented.
func (c *chauffeur) resend(ctx context.Context, dc DispatchContext) error {
	next := dc.Message.Resent()
	raw, err := envelope.Encode(next)
	if err != nil {
		return fmt.Errorf("romeways: encode resend: %w", err)
	}
	if err := c.conn.SendMessages(ctx, raw); err != nil {
		return fmt.Errorf("romeways: resend to queue %q of connector %q: %w", c.itinerary.QueueName, c.connectorName, err)
	}
	c.metrics.recordResend(c.connectorName, c.itinerary.QueueName)
	dc.Message = next
	c.hooks.resend(dc)
	return nil
}

func (c *chauffeur) record(outcome string, d time.Duration) {
	c.metrics.recordOutcome(c.connectorName, c.itinerary.QueueName, outcome, d)
	c.itinerary.stats.recordOutcome(outcome, d)
}

// runItineraries builds and starts one connector per itinerary, in order, then
// runs every scheduler until all of them return. A failing scheduler does not
// stop its siblings.
func runItineraries(ctx context.Context, rm RegionMap, itineraries []Itinerary, opts dispatchOptions) error {
	opts = opts.withDefaults()
	name := rm.ConnectorName()
	wmLogger := loggingpkg.NewWatermillAdapter(opts.logger.With(loggingpkg.LogFields{"connector": name}))

	chauffeurs := make([]*chauffeur, 0, len(itineraries))
	defer func() {
		for _, ch := range chauffeurs {
			closeConnector(ch.conn, opts.logger)
		}
	}()

	for _, it := range itineraries {
		conn, err := rm.Type.Build(ctx, rm.Settings, it.QueueName, it.Settings, wmLogger)
		if err != nil {
			return fmt.Errorf("romeways: build connector %q for queue %q: %w", name, it.QueueName, err)
		}
		ch := newChauffeur(name, it, conn, opts)
		chauffeurs = append(chauffeurs, ch)
		if err := conn.OnStart(ctx); err != nil {
			return fmt.Errorf("romeways: start connector %q for queue %q: %w", name, it.QueueName, err)
		}
	}

	var g errgroup.Group
	for _, ch := range chauffeurs {
		g.Go(func() error {
			err := ch.watch(ctx)
			if err != nil {
				ch.logger.Error("Queue watch stopped", err, nil)
			}
			return err
		})
	}
	return g.Wait()
}

func closeConnector(conn connector.Connector, logger loggingpkg.ServiceLogger) {
	closer, ok := conn.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Failed to close connector", err, nil)
	}
}
