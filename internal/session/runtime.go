package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/askid/voiceauth/internal/metrics"
)

// Runtime owns the per-connection lifecycle described in §4.10:
// inbound demultiplexing, outbound serialization, the idle timer,
// cooperative cancellation, and failure semantics. It is the single
// entry point production wiring (internal/transport) and tests call
// once per accepted connection.
type Runtime struct {
	Deps Deps
}

// NewRuntime builds a Runtime from deps, substituting DefaultConfig
// when deps.Config is entirely zero. A partially set Config is used
// as given; its zero fields are not filled in.
func NewRuntime(deps Deps) *Runtime {
	if deps.Config == (Config{}) {
		deps.Config = DefaultConfig()
	}
	return &Runtime{Deps: deps}
}

// Serve reads the first frame off conn and dispatches to the
// enrollment or verification state machine. It recovers from panics
// in pipeline code, converting them to INTERNAL_ERROR per §4.10's
// failure policy, and always leaves conn closed on return.
func (rt *Runtime) Serve(ctx context.Context, conn Conn) (err error) {
	// correlationID has no bearing on auth decisions; it exists purely
	// so a connection's scattered log lines can be grepped together,
	// since no per-session log record is otherwise persisted (§6).
	correlationID := uuid.NewString()
	log.Debug("session accepted", "correlation_id", correlationID)

	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Error("session panic", "correlation_id", correlationID, "recover", r)
			sendErr := conn.Send(Message{Type: TypeError, Code: string(CodeInternalError), Message: CodeInternalError.Message()})
			closeErr := conn.Close()
			if sendErr != nil {
				err = sendErr
				return
			}
			err = closeErr
		}
	}()

	frame, ferr := nextFrame(ctx, conn, rt.Deps.Config.IdleTimeout)
	if ferr != nil {
		return mapFrameError(conn, ferr)
	}
	if frame.Message == nil {
		return sendFatal(conn, CodeInternalError)
	}

	switch frame.Message.Type {
	case TypeStartEnrollment:
		metrics.SessionStarted(metrics.KindEnrollment)
		err = runEnrollment(ctx, conn, rt.Deps, *frame.Message)
		metrics.SessionEnded(metrics.KindEnrollment, outcomeFor(err))
		return err
	case TypeStartVerify:
		metrics.SessionStarted(metrics.KindVerification)
		err = runVerify(ctx, conn, rt.Deps, *frame.Message)
		metrics.SessionEnded(metrics.KindVerification, outcomeFor(err))
		return err
	default:
		return sendFatal(conn, CodeInternalError)
	}
}

func outcomeFor(err error) metrics.Outcome {
	var sessErr *SessionError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &sessErr):
		if sessErr.Code == CodeTimeout {
			return metrics.OutcomeTimeout
		}
		return metrics.OutcomeFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}

// nextFrame reads one frame off conn, enforcing the idle timer (§4.10:
// "resettable on any inbound frame" — each call starts a fresh
// deadline rather than tracking one long-lived timer).
func nextFrame(ctx context.Context, conn Conn, idleTimeout time.Duration) (Frame, error) {
	rctx, cancel := context.WithTimeout(ctx, idleTimeout)
	defer cancel()

	frame, err := conn.ReadFrame(rctx)
	if err != nil {
		if rctx.Err() != nil && ctx.Err() == nil {
			return Frame{}, fmt.Errorf("%w: %v", errIdleTimeout, err)
		}
		return Frame{}, err
	}
	return frame, nil
}
