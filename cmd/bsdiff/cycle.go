package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/blockdiff/bsdiff"
)

// newCycleCommand diffs OLDER against NEWER, immediately applies the
// result against OLDER, and fails if the reconstructed bytes don't match
// NEWER exactly. It reports the patch's compression ratio against NEWER,
// the way bic's cycle mode reports diff/patch round-trip statistics.
func newCycleCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "cycle",
		Usage:     "diff, patch, and verify a round trip, reporting compression ratio",
		ArgsUsage: "OLDER NEWER",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "block-size", Value: bsdiff.DefaultBlockSize, Usage: "index block size in bytes"},
			&cli.IntFlag{Name: "chunk-size", Value: 0, Usage: "scan chunk size in bytes (0 = single-threaded)"},
			&cli.IntFlag{Name: "threads", Value: 0, Usage: "worker pool size for chunked scanning (0 = GOMAXPROCS)"},
			&cli.StringFlag{Name: "method", Value: "none", Usage: "patch compression method: none, zstd, s2"},
			&cli.BoolFlag{Name: "ram", Value: true, Usage: "use a RAM-backed index instead of a pageable one"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("usage: bsdiff cycle OLDER NEWER")
			}
			return runCycle(c.Args().Get(0), c.Args().Get(1), diffFlags(c))
		},
	}
}

func runCycle(olderPath, newerPath string, opts diffOptions) error {
	start := time.Now()

	older, err := os.ReadFile(olderPath)
	if err != nil {
		return fmt.Errorf("read older file: %w", err)
	}
	newer, err := os.ReadFile(newerPath)
	if err != nil {
		return fmt.Errorf("read newer file: %w", err)
	}

	var patchBuf bytes.Buffer
	pw, err := bsdiff.NewPatchWriter(&patchBuf, bsdiff.PatchWriterOptions{
		NewSize:   int64(len(newer)),
		ChunkSize: opts.chunkSize,
		Method:    opts.method,
	})
	if err != nil {
		return fmt.Errorf("create patch writer: %w", err)
	}

	tr := bsdiff.NewTranslator(older, newer, pw.WriteControl)
	if err := bsdiff.Diff(older, newer, opts.params, tr.Add); err != nil {
		_ = tr.Close()
		_ = pw.Close()
		return fmt.Errorf("diff: %w", err)
	}
	if err := tr.Close(); err != nil {
		return fmt.Errorf("flush translator: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close patch writer: %w", err)
	}

	pr, err := bsdiff.NewPatchReader(bytes.NewReader(patchBuf.Bytes()), older)
	if err != nil {
		return fmt.Errorf("open patch stream: %w", err)
	}
	defer pr.Close()

	var rebuilt bytes.Buffer
	if _, err := rebuilt.ReadFrom(pr); err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}

	if !bytes.Equal(rebuilt.Bytes(), newer) {
		return bsdiff.ErrCycleMismatch
	}

	ratio := float64(patchBuf.Len()) / float64(len(newer))
	klog.Infof("cycle OK: older=%s newer=%s patch=%s (%.2f%% of newer) in %s",
		humanize.Bytes(uint64(len(older))),
		humanize.Bytes(uint64(len(newer))),
		humanize.Bytes(uint64(patchBuf.Len())),
		ratio*100,
		time.Since(start).Round(time.Millisecond))
	return nil
}
