// Command bsdiff computes and applies block-hash binary deltas.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

var gitCommitSHA = ""

// klogFlags backs klog's own flags (-v, -logtostderr, ...) so the CLI's
// --verbose flag can drive klog's verbosity without exposing klog's raw
// flag set on the command line.
var klogFlags flag.FlagSet

func init() {
	klog.InitFlags(&klogFlags)
	_ = klogFlags.Set("logtostderr", "true")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "bsdiff",
		Version:     gitCommitSHA,
		Usage:       "compute and apply block-hash binary deltas",
		Description: "bsdiff computes and applies binary patches between two versions of a file, using a bucketed block-hash index rather than a suffix array.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable verbose (klog V(2)) logging"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				_ = klogFlags.Set("v", "2")
			}
			return nil
		},
		Commands: []*cli.Command{
			newDiffCommand(ctx),
			newPatchCommand(ctx),
			newCycleCommand(ctx),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Errorf("%s", err)
		os.Exit(1)
	}
}
