package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/askid/voiceauth/internal/gallery"
	"github.com/askid/voiceauth/internal/metrics"
	"github.com/askid/voiceauth/internal/pipeline"
	"github.com/askid/voiceauth/internal/prompt"
)

// pipelineOutcome classifies a processed audio frame for the
// enrollment retry logic (§4.10 failure policy: decode/VAD/ASR/segment
// errors are recoverable retries; store errors are terminal).
type pipelineOutcome struct {
	segments []pipeline.Segment
	asrText  string
	err      error
	code     Code
}

// runEnrollment drives the enrollment state machine (§4.8) for one
// connection, starting from CONNECTED.
func runEnrollment(ctx context.Context, conn Conn, deps Deps, start Message) error {
	if start.SpeakerID == "" {
		return sendFatal(conn, CodeInternalError)
	}

	exists, err := deps.Store.Exists(start.SpeakerID)
	if err != nil {
		log.Error("gallery exists check failed", "error", err)
		return sendFatal(conn, CodeInternalError)
	}
	if exists {
		// Open Question resolution (§9): re-enrollment of an existing
		// speaker_id is rejected outright, before any prompts issue.
		return sendFatal(conn, CodeSpeakerAlreadyExists)
	}

	prompts, err := prompt.Balanced()
	if err != nil {
		log.Error("balanced prompt generation failed", "error", err)
		return sendFatal(conn, CodeInternalError)
	}

	sess := newEnrollmentSession(start.SpeakerID, start.SpeakerName, prompts)

	if err := conn.Send(Message{
		Type:       TypePrompts,
		SpeakerID:  sess.speakerID,
		Prompts:    prompts[:],
		TotalSets:  len(prompts),
		CurrentSet: 0,
	}); err != nil {
		return err
	}

	for sess.setIndex < len(sess.prompts) {
		frame, err := nextFrame(ctx, conn, deps.Config.IdleTimeout)
		if err != nil {
			return mapFrameError(conn, err)
		}
		if frame.Message != nil {
			// Only audio frames are expected mid-set; ignore stray
			// control frames rather than failing the session.
			continue
		}

		outcome := processEnrollmentAudio(ctx, deps, sess.prompts[sess.setIndex], frame.Audio)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return mapFrameError(conn, ctxErr)
		}
		if outcome.err == nil {
			for _, seg := range outcome.segments {
				sess.accumulator[seg.Digit] = append(sess.accumulator[seg.Digit], seg.Embedding)
			}
			remaining := len(sess.prompts) - sess.setIndex - 1
			if err := conn.Send(Message{
				Type:          TypeASRResult,
				Success:       true,
				ASRResult:     outcome.asrText,
				SetIndex:      sess.setIndex,
				RemainingSets: remaining,
			}); err != nil {
				return err
			}
			sess.setIndex++
			sess.retryCount = 0
			continue
		}

		// Recoverable mismatch: retry the same set.
		sess.retryCount++
		if sess.retryCount >= deps.Config.MaxRetriesPerSet {
			return sendFatal(conn, CodeMaxRetriesExceeded)
		}
		if err := conn.Send(Message{
			Type:       TypeASRResult,
			Success:    false,
			ASRResult:  outcome.asrText,
			SetIndex:   sess.setIndex,
			RetryCount: sess.retryCount,
			MaxRetries: deps.Config.MaxRetriesPerSet,
			Message:    outcome.code.Message(),
		}); err != nil {
			return err
		}
	}

	sess.state = stateAwaitingPIN
	return runPINRegistration(ctx, conn, deps, sess)
}

func processEnrollmentAudio(ctx context.Context, deps Deps, wantPrompt string, audio []byte) pipelineOutcome {
	decodeStart := time.Now()
	decoded, err := deps.Decoder.Decode(ctx, audio)
	metrics.ObserveStage(metrics.StageDecode, time.Since(decodeStart).Seconds())
	if err != nil {
		return pipelineOutcome{err: err, code: CodeDecodeError}
	}
	if err := pipeline.ValidateDuration(decoded); err != nil {
		return pipelineOutcome{err: err, code: CodeInvalidAudio}
	}

	var result pipelineOutcome
	err = deps.Pool.Do(ctx, func(h *pipeline.Handle) error {
		started := time.Now()
		vadResult, err := h.VAD.Detect(ctx, decoded)
		metrics.ObserveStage(metrics.StageVAD, time.Since(started).Seconds())
		if err != nil {
			result = pipelineOutcome{err: err, code: CodeInternalError}
			return nil
		}
		if !vadResult.HasSpeech {
			result = pipelineOutcome{err: pipeline.ErrInvalidAudio, code: CodeInvalidAudio}
			return nil
		}

		started = time.Now()
		transcript, err := h.ASR.Transcribe(ctx, decoded)
		metrics.ObserveStage(metrics.StageASR, time.Since(started).Seconds())
		if err != nil {
			result = pipelineOutcome{err: err, code: CodeASRFailed}
			return nil
		}

		started = time.Now()
		segments, err := deps.Segmenter.Segment(transcript, decoded, wantPrompt)
		metrics.ObserveStage(metrics.StageSegment, time.Since(started).Seconds())
		if err != nil {
			result = pipelineOutcome{asrText: transcript.Text, err: err, code: CodeSegmentationFailed}
			return nil
		}

		started = time.Now()
		for i := range segments {
			emb, err := h.Embedding.Embed(ctx, segments[i].PCM)
			if err != nil {
				result = pipelineOutcome{asrText: transcript.Text, err: err, code: CodeInternalError}
				return nil
			}
			segments[i].Embedding = pipeline.L2Normalize(emb)
		}
		metrics.ObserveStage(metrics.StageEmbed, time.Since(started).Seconds())

		result = pipelineOutcome{segments: segments, asrText: transcript.Text}
		return nil
	})
	if err != nil {
		return pipelineOutcome{err: err, code: CodeInternalError}
	}
	return result
}

func runPINRegistration(ctx context.Context, conn Conn, deps Deps, sess *EnrollmentSession) error {
	for {
		frame, err := nextFrame(ctx, conn, deps.Config.IdleTimeout)
		if err != nil {
			return mapFrameError(conn, err)
		}
		if frame.Message == nil || frame.Message.Type != TypeRegisterPIN {
			continue
		}

		if err := gallery.ValidatePIN(frame.Message.PIN); err != nil {
			if sendErr := conn.Send(Message{Type: TypeError, Code: string(CodeInvalidPIN), Message: CodeInvalidPIN.Message()}); sendErr != nil {
				return sendErr
			}
			continue
		}

		digest, err := gallery.HashPIN(frame.Message.PIN)
		if err != nil {
			return sendFatal(conn, CodeInternalError)
		}
		sess.pendingPIN = &digest
		sess.state = stateCommitting
		return commitEnrollment(conn, deps, sess)
	}
}

func commitEnrollment(conn Conn, deps Deps, sess *EnrollmentSession) error {
	centroids := make(map[byte][]float32, len(gallery.Digits))
	for _, d := range []byte(gallery.Digits) {
		embeddings := sess.accumulator[d]
		if len(embeddings) != 2 {
			log.Error("enrollment invariant violated", "digit", string(d), "count", len(embeddings))
			return sendFatal(conn, CodeInternalError)
		}
		mean := make([]float32, pipeline.EmbeddingDim)
		for _, e := range embeddings {
			for i, v := range e {
				mean[i] += v
			}
		}
		for i := range mean {
			mean[i] /= float32(len(embeddings))
		}
		centroids[d] = pipeline.L2Normalize(mean)
	}

	input := gallery.EnrollmentInput{
		SpeakerID: sess.speakerID,
		Name:      sess.speakerName,
		PIN:       sess.pendingPIN,
		Centroids: centroids,
	}
	if err := deps.Store.Commit(input); err != nil {
		if errors.Is(err, gallery.ErrSpeakerAlreadyExists) {
			return sendFatal(conn, CodeSpeakerAlreadyExists)
		}
		log.Error("gallery commit failed", "error", err)
		return sendFatal(conn, CodeInternalError)
	}

	digits := make([]string, 0, len(gallery.Digits))
	for _, d := range []byte(gallery.Digits) {
		digits = append(digits, string(d))
	}

	return conn.Send(Message{
		Type:             TypeEnrollmentComplete,
		SpeakerID:        sess.speakerID,
		RegisteredDigits: digits,
		HasPIN:           sess.pendingPIN != nil,
		Status:           "registered",
	})
}

func sendFatal(conn Conn, code Code) error {
	sendErr := conn.Send(Message{Type: TypeError, Code: string(code), Message: code.Message()})
	closeErr := conn.Close()
	if sendErr != nil {
		return sendErr
	}
	if closeErr != nil {
		return closeErr
	}
	return &SessionError{Code: code}
}

func mapFrameError(conn Conn, err error) error {
	if errors.Is(err, errIdleTimeout) {
		return sendFatal(conn, CodeTimeout)
	}
	if errors.Is(err, context.Canceled) {
		if closeErr := conn.Close(); closeErr != nil {
			return closeErr
		}
		return err
	}
	return sendFatal(conn, CodeInternalError)
}

var errIdleTimeout = fmt.Errorf("session: idle timeout")
