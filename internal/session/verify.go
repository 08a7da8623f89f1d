package session

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/charmbracelet/log"

	"github.com/askid/voiceauth/internal/gallery"
	"github.com/askid/voiceauth/internal/metrics"
	"github.com/askid/voiceauth/internal/pipeline"
	"github.com/askid/voiceauth/internal/prompt"
)

// runVerify drives the verification state machine (§4.9) for one
// connection, starting from CONNECTED.
func runVerify(ctx context.Context, conn Conn, deps Deps, start Message) error {
	if start.SpeakerID == "" {
		return sendFatal(conn, CodeInternalError)
	}

	g, err := deps.Store.Load(start.SpeakerID)
	if err != nil {
		if errors.Is(err, gallery.ErrSpeakerNotFound) {
			return sendFatal(conn, CodeSpeakerNotFound)
		}
		log.Error("gallery load failed", "error", err)
		return sendFatal(conn, CodeInternalError)
	}

	length := deps.Config.ChallengeLengthMin
	if deps.Config.ChallengeLengthMax > length {
		spread := deps.Config.ChallengeLengthMax - deps.Config.ChallengeLengthMin + 1
		n, err := rand.Int(rand.Reader, big.NewInt(int64(spread)))
		if err != nil {
			return sendFatal(conn, CodeInternalError)
		}
		length += int(n.Int64())
	}
	challenge, err := prompt.Challenge(length)
	if err != nil {
		log.Error("challenge generation failed", "error", err)
		return sendFatal(conn, CodeInternalError)
	}

	sess := newVerificationSession(start.SpeakerID, challenge)

	if err := conn.Send(Message{Type: TypePrompt, Prompt: challenge, Length: len(challenge)}); err != nil {
		return err
	}

	frame, err := nextFrame(ctx, conn, deps.Config.IdleTimeout)
	if err != nil {
		return mapFrameError(conn, err)
	}
	if frame.Message != nil && frame.Message.Type != "" {
		return sendFatal(conn, CodeInternalError)
	}

	decodeStart := time.Now()
	decoded, err := deps.Decoder.Decode(ctx, frame.Audio)
	metrics.ObserveStage(metrics.StageDecode, time.Since(decodeStart).Seconds())
	if ctxErr := ctx.Err(); ctxErr != nil {
		return mapFrameError(conn, ctxErr)
	}
	if err != nil {
		return sendFatal(conn, CodeDecodeError)
	}
	if err := pipeline.ValidateDuration(decoded); err != nil {
		return sendFatal(conn, CodeInvalidAudio)
	}

	var segments []pipeline.Segment
	var segErr error
	err = deps.Pool.Do(ctx, func(h *pipeline.Handle) error {
		started := time.Now()
		vadResult, err := h.VAD.Detect(ctx, decoded)
		metrics.ObserveStage(metrics.StageVAD, time.Since(started).Seconds())
		if err != nil {
			segErr = err
			return nil
		}
		if !vadResult.HasSpeech {
			segErr = pipeline.ErrInvalidAudio
			return nil
		}

		started = time.Now()
		transcript, err := h.ASR.Transcribe(ctx, decoded)
		metrics.ObserveStage(metrics.StageASR, time.Since(started).Seconds())
		if err != nil {
			segErr = err
			return nil
		}

		started = time.Now()
		segs, err := deps.Segmenter.Segment(transcript, decoded, sess.prompt)
		metrics.ObserveStage(metrics.StageSegment, time.Since(started).Seconds())
		if err != nil {
			segErr = err
			return nil
		}

		started = time.Now()
		for i := range segs {
			emb, err := h.Embedding.Embed(ctx, segs[i].PCM)
			if err != nil {
				segErr = err
				return nil
			}
			segs[i].Embedding = pipeline.L2Normalize(emb)
		}
		metrics.ObserveStage(metrics.StageEmbed, time.Since(started).Seconds())
		segments = segs
		return nil
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return mapFrameError(conn, ctxErr)
	}
	if err != nil {
		return sendFatal(conn, CodeInternalError)
	}

	if errors.Is(segErr, pipeline.ErrSegmentationMismatch) {
		sess.mode = modeTerminal
		sendErr := conn.Send(Message{
			Type:          TypeVerifyResult,
			Authenticated: false,
			ASRMatched:    boolPtr(false),
		})
		closeErr := conn.Close()
		if sendErr != nil {
			return sendErr
		}
		return closeErr
	}
	if segErr != nil {
		return sendFatal(conn, CodeInternalError)
	}

	digitScores := make(map[string]float64, len(segments))
	var sum float64
	invalidScore := false
	for _, seg := range segments {
		centroid, ok := g.Centroids[seg.Digit]
		if !ok {
			log.Error("verification centroid missing", "speaker", sess.speakerID, "digit", string(seg.Digit))
			return sendFatal(conn, CodeInternalError)
		}
		score := pipeline.CosineSimilarity(seg.Embedding, centroid.Embedding)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			score = 0
			invalidScore = true
		}
		digitScores[string(seg.Digit)] = score
		sum += score
	}
	aggregate := sum / float64(len(segments))
	voicePass := !invalidScore && aggregate >= deps.Config.Threshold

	if voicePass {
		sess.mode = modeTerminal
		sendErr := conn.Send(Message{
			Type:            TypeVerifyResult,
			Authenticated:   true,
			ASRMatched:      boolPtr(true),
			VoiceSimilarity: floatPtr(aggregate),
			DigitScores:     digitScores,
			AuthMethod:      "voice",
		})
		closeErr := conn.Close()
		if sendErr != nil {
			return sendErr
		}
		return closeErr
	}

	sess.mode = modeAwaitingPIN
	if err := conn.Send(Message{
		Type:             TypeVerifyResult,
		Authenticated:    false,
		ASRMatched:       boolPtr(true),
		VoiceSimilarity:  floatPtr(aggregate),
		DigitScores:      digitScores,
		CanFallbackToPIN: g.Speaker.HasPIN(),
	}); err != nil {
		return err
	}
	if !g.Speaker.HasPIN() {
		return sendFatal(conn, CodePINNotSet)
	}

	return runPINVerification(ctx, conn, deps, sess)
}

func runPINVerification(ctx context.Context, conn Conn, deps Deps, sess *VerificationSession) error {
	attempts := 0
	for {
		frame, err := nextFrame(ctx, conn, deps.Config.IdleTimeout)
		if err != nil {
			return mapFrameError(conn, err)
		}
		if frame.Message == nil || frame.Message.Type != TypeVerifyPIN {
			continue
		}

		ok, err := deps.Store.VerifyPIN(sess.speakerID, frame.Message.PIN)
		if err != nil {
			log.Error("pin verify failed", "error", err)
			return sendFatal(conn, CodeInternalError)
		}
		if ok {
			sess.mode = modeTerminal
			sendErr := conn.Send(Message{
				Type:          TypeVerifyResult,
				Authenticated: true,
				AuthMethod:    "pin",
			})
			closeErr := conn.Close()
			if sendErr != nil {
				return sendErr
			}
			return closeErr
		}

		attempts++
		if attempts >= deps.Config.MaxRetriesPerSet {
			sess.mode = modeTerminal
			sendErr := conn.Send(Message{Type: TypeVerifyResult, Authenticated: false, AuthMethod: "pin"})
			closeErr := conn.Close()
			if sendErr != nil {
				return sendErr
			}
			return closeErr
		}
		if err := conn.Send(Message{Type: TypeError, Code: string(CodeInvalidPIN), Message: CodeInvalidPIN.Message()}); err != nil {
			return err
		}
	}
}
