package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	natomic "github.com/natefinch/atomic"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/blockdiff/bsdiff"
)

func newPatchCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "patch",
		Usage:     "apply a patch to reconstruct a file",
		ArgsUsage: "PATCH OLDER OUTPUT",
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("usage: bsdiff patch PATCH OLDER OUTPUT")
			}
			return runPatch(c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
		},
	}
}

func runPatch(patchPath, olderPath, outputPath string) error {
	start := time.Now()

	patchFile, err := os.Open(patchPath)
	if err != nil {
		return fmt.Errorf("open patch file: %w", err)
	}
	defer patchFile.Close()

	older, err := os.ReadFile(olderPath)
	if err != nil {
		return fmt.Errorf("read older file: %w", err)
	}

	pr, err := bsdiff.NewPatchReader(patchFile, older)
	if err != nil {
		return fmt.Errorf("open patch stream: %w", err)
	}
	defer pr.Close()

	if err := natomic.WriteFile(outputPath, pr); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}

	info, err := os.Stat(outputPath)
	var size int64
	if err == nil {
		size = info.Size()
	}

	klog.Infof("wrote %s (%s) in %s", outputPath, humanize.Bytes(uint64(size)), time.Since(start).Round(time.Millisecond))
	return nil
}
