package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/blob-vision/pkg/tiling"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <inputDir> <outputDir> <n> [stride]\n", filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}

func main() {
	var channels, quality, workers, minDistance int
	var ext string
	var verbose bool

	flag.IntVar(&channels, "channels", 3, "channels per tile: 1 (gray), 3 (RGB) or 4 (RGBA)")
	flag.StringVar(&ext, "ext", "jpg", "output format for tiles: jpg|png|webp")
	flag.IntVar(&quality, "quality", 95, "JPEG/WebP output quality (1-100)")
	flag.IntVar(&workers, "workers", 1, fmt.Sprintf("images processed in parallel (this machine has %d CPUs)", runtime.NumCPU()))
	flag.IntVar(&minDistance, "min-distance", 0, "skip tiles whose perceptual hash is within this distance of an earlier tile of the same image (0 keeps all)")
	flag.BoolVar(&verbose, "v", false, "log every tile written")
	flag.Usage = usage
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	args := flag.Args()
	if len(args) < 3 || len(args) > 4 {
		usage()
		os.Exit(2)
	}

	n, err := strconv.Atoi(args[2])
	if err != nil {
		log.Errorf("tile size %q is not an integer", args[2])
		os.Exit(2)
	}
	stride := n
	if len(args) == 4 {
		if stride, err = strconv.Atoi(args[3]); err != nil {
			log.Errorf("stride %q is not an integer", args[3])
			os.Exit(2)
		}
	}

	// an explicit stride of 0 must fail rather than fall back to n
	if err := tiling.Validate(n, stride); err != nil {
		log.Error(err)
		os.Exit(2)
	}

	batch, err := tiling.NewBatch(tiling.Options{
		InputDir:  args[0],
		OutputDir: args[1],
		N:         n,
		Stride:    stride,
		Channels:  channels,
		Format:    ext,
		Quality:   quality,
		Workers:   workers,

		MinDistance: minDistance,
	}, log)
	if err != nil {
		log.Error(err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := batch.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}
	log.WithFields(logrus.Fields{
		"images":  sum.Images,
		"slices":  sum.Slices,
		"tiles":   sum.Tiles,
		"skipped": sum.Skipped,
		"failed":  sum.Failed,
	}).Info("Done")
	if sum.Failed > 0 {
		os.Exit(1)
	}
}
