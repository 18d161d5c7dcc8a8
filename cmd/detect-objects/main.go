package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/blob-vision/internal/config"
	"github.com/menta2k/blob-vision/internal/handler"
	"github.com/menta2k/blob-vision/internal/logger"
	"github.com/menta2k/blob-vision/pkg/pipeline"
	"github.com/menta2k/blob-vision/pkg/processing"
	"github.com/menta2k/blob-vision/pkg/types"
)

func main() {
	var configPath, envFile, uri, name, debugDir string
	var verbose, jsonLogs bool

	flag.StringVar(&configPath, "config", "", "optional YAML or JSON config file")
	flag.StringVar(&envFile, "env", ".env", "dotenv file loaded before reading the environment")
	flag.StringVar(&uri, "uri", "", "process this blob URI once and exit instead of serving")
	flag.StringVar(&name, "name", "", "blob name for -uri; with no -uri, the blob is looked up in the configured container")
	flag.StringVar(&debugDir, "debug", "", "write box overlay images to this directory")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.BoolVar(&jsonLogs, "json", false, "log as JSON")
	flag.Parse()

	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if jsonLogs {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	signer, err := cfg.NewSigner()
	if err != nil {
		log.Fatalf("Failed to create storage signer: %v", err)
	}
	httpClient := cfg.HTTPClient()
	detector, err := cfg.NewDetector(httpClient)
	if err != nil {
		log.Fatalf("Failed to create %s detector: %v", cfg.Detector.Backend, err)
	}
	classifier, err := cfg.NewClassifier(httpClient)
	if err != nil {
		log.Fatalf("Failed to create %s classifier: %v", cfg.Classifier.Backend, err)
	}

	orch, err := pipeline.New(signer, processing.NewProcessorWithClient(httpClient), detector, classifier)
	if err != nil {
		log.Fatal(err)
	}
	orch.DebugDir = debugDir

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if uri == "" && name != "" {
		uri = signer.Account().BlobURL(cfg.Storage.Container, name)
	}
	if uri != "" {
		ref := types.BlobRef{Name: name, URI: uri}
		if ref.Name == "" {
			ref.Name = uri
		}
		records, err := orch.Run(logger.WithLogEntry(ctx, logrus.NewEntry(log)), ref)
		if err != nil {
			log.Fatal(err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			log.Fatal(err)
		}
		return
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           handler.NewHandler(orch, log).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(logrus.Fields{
		"port":       cfg.Server.Port,
		"detector":   cfg.Detector.Backend,
		"classifier": cfg.Classifier.Backend,
	}).Info("Custom handler listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
