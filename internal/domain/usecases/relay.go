// Package usecases contains application business rules.
// Clean Architecture: Usecases orchestrate entities and depend on port interfaces.
// They contain NO framework code - transport and storage arrive through ports.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/eventstream"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/ports"
)

// DefaultUpstreamTimeout bounds one generation call.
const DefaultUpstreamTimeout = 5 * time.Minute

// Relay modes and outcomes reported to telemetry.
const (
	ModeBuffered = "buffered"
	ModeStream   = "stream"

	OutcomeDone        = "done"
	OutcomeUpstreamErr = "upstream_error"
	OutcomeUnavailable = "unavailable"
	OutcomeCanceled    = "canceled"
)

// Relay drives one generation interaction against the upstream.
type Relay struct {
	generator ports.Generator
	telemetry ports.Telemetry
	logger    zerolog.Logger
	timeout   time.Duration
}

// NewRelay creates a Relay with injected dependencies.
func NewRelay(generator ports.Generator, telemetry ports.Telemetry, logger zerolog.Logger, timeout time.Duration) *Relay {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	if telemetry == nil {
		telemetry = nopTelemetry{}
	}
	return &Relay{
		generator: generator,
		telemetry: telemetry,
		logger:    logger,
		timeout:   timeout,
	}
}

// Send opens exactly one upstream call for req. With a nil subscriber the
// call is buffered; otherwise frames are forwarded to sub as they arrive and
// the done frame's payload is returned once it has been forwarded.
func (r *Relay) Send(ctx context.Context, req *entities.SendRequest, sub ports.Subscriber) (*entities.TerminalResult, error) {
	start := time.Now()
	mode := ModeStream
	if sub == nil {
		mode = ModeBuffered
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		res *entities.TerminalResult
		err error
	)
	if sub == nil {
		res, err = r.buffered(ctx, req)
	} else {
		res, err = r.stream(ctx, req, sub)
	}

	outcome := classify(err)
	r.telemetry.RelayFinished(mode, outcome, time.Since(start))
	if err != nil {
		r.logger.Warn().Err(err).
			Str("conversation", req.ConversationID).
			Str("mode", mode).
			Str("outcome", outcome).
			Msg("relay failed")
	}
	return res, err
}

func (r *Relay) buffered(ctx context.Context, req *entities.SendRequest) (*entities.TerminalResult, error) {
	res, err := r.generator.Generate(ctx, generateRequest(req))
	if err != nil {
		return nil, r.transportError(ctx, err)
	}
	return res, nil
}

func (r *Relay) stream(ctx context.Context, req *entities.SendRequest, sub ports.Subscriber) (*entities.TerminalResult, error) {
	// Detaching cancels ctx; the upstream body must close right away.
	ctx, detach := context.WithCancel(ctx)
	defer detach()

	body, err := r.generator.GenerateStream(ctx, generateRequest(req))
	if err != nil {
		return nil, r.transportError(ctx, err)
	}
	defer body.Close()
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	rd := eventstream.NewReader(body)
	for {
		if err := ctx.Err(); err != nil {
			return nil, r.transportError(ctx, err)
		}
		f, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: stream ended before done", entities.ErrUpstreamUnavailable)
		}
		if err != nil {
			return nil, r.transportError(ctx, err)
		}

		ev, err := eventstream.Decode(f)
		if err != nil {
			r.telemetry.FrameDropped(f.Type)
			r.logger.Warn().Err(err).
				Str("conversation", req.ConversationID).
				Str("frame_type", f.Type).
				Msg("dropping malformed frame")
			continue
		}

		if err := sub.Deliver(ctx, f); err != nil {
			detach()
			return nil, fmt.Errorf("%w: subscriber detached: %v", entities.ErrCanceled, err)
		}
		r.telemetry.FrameRelayed(f.Type)

		switch p := ev.Payload.(type) {
		case eventstream.Done:
			res := p.Result
			return &res, nil
		case eventstream.Failure:
			return nil, &entities.UpstreamError{Message: p.Message}
		}
	}
}

// transportError maps a failed call to ErrCanceled when the caller went away
// and to ErrUpstreamUnavailable otherwise, timeouts included.
func (r *Relay) transportError(ctx context.Context, err error) error {
	if errors.Is(err, entities.ErrUpstreamUnavailable) && ctx.Err() == nil {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %v", entities.ErrCanceled, err)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no terminal result within %s", entities.ErrUpstreamUnavailable, r.timeout)
	}
	return fmt.Errorf("%w: %v", entities.ErrUpstreamUnavailable, err)
}

func classify(err error) string {
	var upstream *entities.UpstreamError
	switch {
	case err == nil:
		return OutcomeDone
	case errors.As(err, &upstream):
		return OutcomeUpstreamErr
	case errors.Is(err, entities.ErrCanceled):
		return OutcomeCanceled
	default:
		return OutcomeUnavailable
	}
}

func generateRequest(req *entities.SendRequest) ports.GenerateRequest {
	return ports.GenerateRequest{
		Query:     req.Query,
		History:   req.History,
		Documents: req.Documents,
		Datasets:  req.Datasets,
	}
}

type nopTelemetry struct{}

func (nopTelemetry) FrameRelayed(string)                         {}
func (nopTelemetry) FrameDropped(string)                         {}
func (nopTelemetry) RelayFinished(string, string, time.Duration) {}
func (nopTelemetry) TranscriptWritten(string, int)               {}
func (nopTelemetry) PersistenceFailed()                          {}
