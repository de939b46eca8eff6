package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	natomic "github.com/natefinch/atomic"
	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"k8s.io/klog/v2"

	"github.com/blockdiff/bsdiff"
)

func newDiffCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "compute a patch between two files",
		ArgsUsage: "OLDER NEWER PATCH",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "block-size", Value: bsdiff.DefaultBlockSize, Usage: "index block size in bytes"},
			&cli.IntFlag{Name: "chunk-size", Value: 0, Usage: "scan chunk size in bytes (0 = single-threaded)"},
			&cli.IntFlag{Name: "threads", Value: 0, Usage: "worker pool size for chunked scanning (0 = GOMAXPROCS)"},
			&cli.StringFlag{Name: "method", Value: "none", Usage: "patch compression method: none, zstd, s2"},
			&cli.Int64Flag{Name: "patch-chunk-size", Value: 0, Usage: "patch body chunk size in bytes (0 = single-stream)"},
			&cli.BoolFlag{Name: "ram", Value: true, Usage: "use a RAM-backed index instead of a pageable one"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("usage: bsdiff diff OLDER NEWER PATCH")
			}
			return runDiff(ctx, c.Args().Get(0), c.Args().Get(1), c.Args().Get(2), diffFlags(c))
		},
	}
}

type diffOptions struct {
	params    bsdiff.DiffParams
	method    bsdiff.CompressionMethod
	chunkSize int64
}

func diffFlags(c *cli.Context) diffOptions {
	return diffOptions{
		params: bsdiff.DiffParams{
			BlockSize:     c.Int("block-size"),
			ScanChunkSize: c.Int("chunk-size"),
			NumThreads:    c.Int("threads"),
			UseRAM:        c.Bool("ram"),
		},
		method:    bsdiff.CompressionMethod(c.String("method")),
		chunkSize: c.Int64("patch-chunk-size"),
	}
}

func runDiff(ctx context.Context, olderPath, newerPath, patchPath string, opts diffOptions) error {
	start := time.Now()

	older, err := os.ReadFile(olderPath)
	if err != nil {
		return fmt.Errorf("read older file: %w", err)
	}
	newer, err := os.ReadFile(newerPath)
	if err != nil {
		return fmt.Errorf("read newer file: %w", err)
	}

	klog.Infof("diffing %s (%s) against %s (%s)",
		olderPath, humanize.Bytes(uint64(len(older))),
		newerPath, humanize.Bytes(uint64(len(newer))))

	progress := mpb.NewWithContext(ctx)
	bar := progress.AddBar(int64(len(newer)),
		mpb.PrependDecorators(decor.Name("scanning ")),
		mpb.AppendDecorators(decor.Percentage()),
	)
	lastReported := 0

	var buf bytes.Buffer
	pw, err := bsdiff.NewPatchWriter(&buf, bsdiff.PatchWriterOptions{
		NewSize:   int64(len(newer)),
		ChunkSize: opts.chunkSize,
		Method:    opts.method,
	})
	if err != nil {
		return fmt.Errorf("create patch writer: %w", err)
	}

	tr := bsdiff.NewTranslator(older, newer, pw.WriteControl)

	diffErr := bsdiff.Diff(older, newer, opts.params, func(m bsdiff.Match) error {
		if m.CopyEnd > lastReported {
			bar.IncrInt64(int64(m.CopyEnd - lastReported))
			lastReported = m.CopyEnd
		}
		return tr.Add(m)
	})
	if diffErr != nil {
		_ = tr.Close()
		_ = pw.Close()
		return fmt.Errorf("diff: %w", diffErr)
	}

	if err := tr.Close(); err != nil {
		return fmt.Errorf("flush translator: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close patch writer: %w", err)
	}
	progress.Wait()

	if err := natomic.WriteFile(patchPath, bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("write patch file: %w", err)
	}

	klog.Infof("wrote %s patch (%s) in %s", patchPath, humanize.Bytes(uint64(buf.Len())), time.Since(start).Round(time.Millisecond))
	return nil
}
