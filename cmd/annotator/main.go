package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/menta2k/bbox-annotator/internal/config"
	"github.com/menta2k/bbox-annotator/internal/logging"
	"github.com/menta2k/bbox-annotator/internal/utils"
	"github.com/menta2k/bbox-annotator/pkg/bridge"
	"github.com/menta2k/bbox-annotator/pkg/host"
	"github.com/menta2k/bbox-annotator/pkg/processing"
	"github.com/menta2k/bbox-annotator/pkg/render"
	"github.com/menta2k/bbox-annotator/pkg/session"
	"github.com/menta2k/bbox-annotator/pkg/storage"
	"github.com/menta2k/bbox-annotator/pkg/vision"
)

func main() {
	var configPath, envFile, hostURL, image, script, out, ext string
	var quality int

	flag.StringVar(&configPath, "config", config.GetConfigPath(), "JSON config file (missing file = defaults)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file overlaid on the config")
	flag.StringVar(&hostURL, "host", "", "websocket URL of an annotator host; empty runs against a local log host")
	flag.StringVar(&image, "image", "", "image path, URL or s3:// object to annotate")
	flag.StringVar(&script, "script", "-", "JSON-lines event script, - for stdin")
	flag.StringVar(&out, "out", "", "write the final view here (default: <image>_view.<ext> in the current directory)")
	flag.StringVar(&ext, "ext", "png", "view format: png|jpg|webp")
	flag.IntVar(&quality, "quality", 90, "JPEG/WebP quality for the view (1-100)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		log.Fatalf("Failed to apply environment: %v", err)
	}
	if image == "" {
		image = cfg.Annotator.DefaultImage
	}
	if image == "" && hostURL == "" {
		log.Fatalf("usage: %s -image input.jpg|URL|s3://bucket/key [-host ws://host/ws] [-script events.jsonl] [-out view.png]", filepath.Base(os.Args[0]))
	}

	logger, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	procOpts := []processing.Option{processing.WithLogger(logger.Named("processing"))}
	if cfg.Storage.Enabled {
		store, err := storage.New(cfg.Storage.S3)
		if err != nil {
			log.Fatalf("Failed to init storage: %v", err)
		}
		procOpts = append(procOpts, processing.WithObjectSource(store))
	}
	processor := processing.NewProcessor(procOpts...)

	var h bridge.Host
	var inbound <-chan bridge.Message
	if hostURL != "" {
		u, err := url.Parse(hostURL)
		if err != nil {
			log.Fatalf("Invalid host URL: %v", err)
		}
		if image != "" {
			q := u.Query()
			q.Set("image", image)
			u.RawQuery = q.Encode()
		}
		c, err := bridge.Dial(ctx, u.String(), logger.Named("bridge"))
		if err != nil {
			log.Fatal(err)
		}
		defer c.Close()
		h, inbound = c, c.Inbound()
	} else {
		hostOpts := []host.Option{
			host.WithSink(host.FileSink{Dir: cfg.Storage.AnnotationDir}),
			host.WithLogger(logger.Named("host")),
		}
		if cfg.Annotator.AutoPropose {
			hostOpts = append(hostOpts, host.WithProposer(vision.New(vision.DefaultConfig())))
		}
		local := host.NewService(cfg.HostConfig(), processor, hostOpts...)
		args, _, err := local.InitArgs(ctx, image)
		if err != nil {
			log.Fatal(err)
		}
		ch := make(chan bridge.Message, 1)
		ch <- bridge.Message{Type: bridge.TypeInit, Args: &args}
		h, inbound = bridge.LogHost{Logger: logger.Named("host")}, ch
	}

	sess := session.New(h,
		session.WithLogger(logger.Named("session")),
		session.WithConfig(cfg.SessionConfig()))

	var r io.Reader = os.Stdin
	if script != "-" {
		f, err := os.Open(script)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		r = f
	}
	surface := make(chan session.Event)
	go func() {
		if err := session.Replay(ctx, r, surface); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("script stopped", zap.Error(err))
		}
	}()

	if err := sess.Run(ctx, surface, inbound); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}

	view := sess.View()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Frame float64         `json:"frame_height"`
		Boxes any             `json:"boxes"`
		Args  bridge.InitArgs `json:"args"`
	}{sess.FrameHeight(), view.Boxes, sess.Args()}); err != nil {
		log.Fatal(err)
	}

	source := sess.Args().ImageURL
	if source == "" {
		logger.Warn("no image was initialised, skipping view")
		return
	}
	img, err := processor.LoadImageSmart(context.Background(), source)
	if err != nil {
		log.Fatalf("Failed to load %s for the view: %v", source, err)
	}
	if out == "" {
		out = utils.OutputFilename(source, ".", "", "_view", ext)
	}
	rendered := render.Rasterize(img, render.Scene(view))
	if err := processor.SaveImage(rendered, out, ext, quality, false); err != nil {
		log.Fatal(err)
	}
	logger.Info("view written", zap.String("path", out), zap.Int("boxes", len(view.Boxes)))
}
