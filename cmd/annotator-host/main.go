package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/bbox-annotator/internal/config"
	"github.com/menta2k/bbox-annotator/internal/logging"
	"github.com/menta2k/bbox-annotator/internal/utils"
	"github.com/menta2k/bbox-annotator/pkg/bridge"
	"github.com/menta2k/bbox-annotator/pkg/client"
	"github.com/menta2k/bbox-annotator/pkg/host"
	"github.com/menta2k/bbox-annotator/pkg/labeler"
	"github.com/menta2k/bbox-annotator/pkg/llamacpp"
	"github.com/menta2k/bbox-annotator/pkg/ollama"
	"github.com/menta2k/bbox-annotator/pkg/pgstore"
	"github.com/menta2k/bbox-annotator/pkg/processing"
	"github.com/menta2k/bbox-annotator/pkg/storage"
	"github.com/menta2k/bbox-annotator/pkg/vision"
)

func main() {
	var configPath, envFile, addr, imagesDir string
	var testVision bool

	flag.StringVar(&configPath, "config", config.GetConfigPath(), "JSON config file (missing file = defaults)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file overlaid on the config")
	flag.StringVar(&addr, "addr", "", "listen address (overrides config)")
	flag.StringVar(&imagesDir, "images", ".", "directory listed by /images when storage is disabled")
	flag.BoolVar(&testVision, "testvision", false, "ask the model to describe the default image and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		log.Fatalf("Failed to apply environment: %v", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logging.Sync(logger)

	var store *storage.Store
	var sink host.AnnotationSink = host.FileSink{Dir: cfg.Storage.AnnotationDir}
	procOpts := []processing.Option{processing.WithLogger(logger.Named("processing"))}
	if cfg.Storage.Enabled {
		store, err = storage.New(cfg.Storage.S3)
		if err != nil {
			logger.Fatal("storage init failed", zap.Error(err))
		}
		sink = store
		procOpts = append(procOpts, processing.WithObjectSource(store))
	}
	var db *pgstore.Store
	if cfg.Storage.PostgresEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err = pgstore.New(ctx, cfg.Storage.Postgres)
		cancel()
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer db.Close()
		sink = db
	}
	logger.Info("annotation sink ready", zap.String("sink", fmt.Sprintf("%T", sink)))
	processor := processing.NewProcessor(procOpts...)

	hostOpts := []host.Option{host.WithSink(sink), host.WithLogger(logger.Named("host"))}
	if cfg.Vision.Backend != "none" {
		vc, err := newVisionClient(cfg.Vision.Backend, cfg.Vision.URL)
		if err != nil {
			logger.Fatal("vision client init failed", zap.Error(err))
		}
		lb, err := labeler.New(vc, processor, cfg.LabelerConfig(), logger.Named("labeler"))
		if err != nil {
			logger.Fatal("labeler init failed", zap.Error(err))
		}
		if testVision {
			runTestVision(lb, processor, cfg.Annotator.DefaultImage)
			return
		}
		hostOpts = append(hostOpts, host.WithSuggester(lb))
	}
	if cfg.Annotator.AutoPropose {
		hostOpts = append(hostOpts, host.WithProposer(vision.New(vision.DefaultConfig())))
	}
	svc := host.NewService(cfg.HostConfig(), processor, hostOpts...)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, bridge.NewWSServer(svc, logger.Named("bridge")))
	mux.HandleFunc("/images", func(w http.ResponseWriter, r *http.Request) {
		images, err := listImages(r.Context(), store, imagesDir, r.URL.Query().Get("prefix"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(images)
	})
	if store != nil {
		// /image?key=photos/a.jpg redirects a browser surface to a short-lived object URL
		mux.HandleFunc("/image", func(w http.ResponseWriter, r *http.Request) {
			key := r.URL.Query().Get("key")
			if !storage.IsImageKey(key) {
				http.Error(w, "key must name an image object", http.StatusBadRequest)
				return
			}
			u, err := store.PresignImage(r.Context(), key, 15*time.Minute)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			http.Redirect(w, r, u, http.StatusFound)
		})
	}
	if db != nil {
		mux.HandleFunc("/status", statusHandler(db))
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("host listening", zap.String("addr", srv.Addr), zap.String("path", cfg.Server.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down host")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	svc.Wait()
}

// statusHandler reports the review status of ?image= on GET and moves it to
// ?status= on POST.
func statusHandler(db *pgstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		image := r.URL.Query().Get("image")
		if image == "" {
			http.Error(w, "image is required", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
		case http.MethodPost:
			st, err := pgstore.ParseStatus(r.URL.Query().Get("status"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := db.SetStatus(r.Context(), image, st); err != nil {
				writeStoreError(w, err)
				return
			}
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		st, err := db.ImageStatus(r.Context(), image)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"image": image, "status": string(st)})
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "image not registered", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func newVisionClient(backend, url string) (client.VisionClient, error) {
	switch backend {
	case "ollama":
		if url == "" {
			url = "http://localhost:11434"
		}
		return ollama.NewClient(url)
	case "llamacpp":
		return llamacpp.NewClient(url)
	}
	return nil, fmt.Errorf("unknown backend: %s (use 'ollama' or 'llamacpp')", backend)
}

func listImages(ctx context.Context, store *storage.Store, dir, prefix string) ([]string, error) {
	if store == nil {
		return utils.ListImageFiles(dir)
	}
	keys, err := store.ListImages(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, "s3://"+store.Bucket()+"/"+k)
	}
	return out, nil
}

func runTestVision(lb *labeler.Labeler, p *processing.Processor, source string) {
	if source == "" {
		log.Fatal("-testvision needs annotator.default_image or ANNOTATOR_IMAGE")
	}
	ctx := context.Background()
	img, err := p.LoadImageSmart(ctx, source)
	if err != nil {
		log.Fatal(err)
	}
	answer, err := lb.TestVision(ctx, img)
	if err != nil {
		log.Fatalf("Vision test failed: %v", err)
	}
	fmt.Println(answer)
}
