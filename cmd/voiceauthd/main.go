// Command voiceauthd serves the voice authentication duplex protocol
// over WebSocket, following the teacher's own cmd-entrypoint wiring
// style: parse config, construct the engine stack, hand off to an
// HTTP server.
package main

import (
	"net/http"
	"os"
	"runtime"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askid/voiceauth/internal/config"
	"github.com/askid/voiceauth/internal/gallery"
	"github.com/askid/voiceauth/internal/metrics"
	"github.com/askid/voiceauth/internal/pipeline"
	"github.com/askid/voiceauth/internal/session"
	"github.com/askid/voiceauth/internal/transport"
)

func main() {
	if err := run(); err != nil {
		log.Fatal("voiceauthd exited", "error", err)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}

	handles := make([]*pipeline.Handle, 0, poolSize)
	for i := 0; i < poolSize; i++ {
		vad, err := pipeline.NewSileroVAD(pipeline.DefaultSileroVADConfig(cfg.VADModelPath))
		if err != nil {
			return err
		}
		asr, err := pipeline.NewWhisperASR(cfg.WhisperModelPath, "ja")
		if err != nil {
			return err
		}
		embedding, err := pipeline.NewONNXEmbeddingExtractor(pipeline.DefaultONNXEmbeddingConfig(cfg.EmbeddingModelPath))
		if err != nil {
			return err
		}
		handles = append(handles, &pipeline.Handle{VAD: vad, ASR: asr, Embedding: embedding})
	}
	pool := pipeline.NewPool(handles)
	defer pool.Close()

	store, err := gallery.NewFileStore(cfg.GalleryPath)
	if err != nil {
		return err
	}

	deps := session.Deps{
		Decoder:   pipeline.NewFFmpegDecoder(cfg.FFmpegPath),
		Pool:      pool,
		Segmenter: pipeline.NewSegmenter(cfg.PaddingSeconds),
		Store:     store,
		Config:    cfg.SessionConfig(),
	}
	rt := session.NewRuntime(deps)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	go serveMetrics(cfg.MetricsAddr)

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.NewHandler(rt))

	log.Info("voiceauthd listening", "addr", cfg.ListenAddr, "pool_size", poolSize)
	return http.ListenAndServe(cfg.ListenAddr, mux)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", "error", err)
	}
}
