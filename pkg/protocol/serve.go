package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/uvatlas/pkg/atlas"
)

// Serve answers batches from r on w until EOF or cancellation. Batch failures
// are written to w and never end the session; only I/O errors and
// cancellation are returned. A batch read after cancellation is still
// answered, with a Cancelled trailer, so the host sees every batch it sent
// terminated.
func Serve(ctx context.Context, r io.Reader, w io.Writer, opts atlas.Options, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	rd := NewReader(r, opts)
	wr := NewWriter(w)
	for n := 0; ; n++ {
		b, err := rd.Next()
		if errors.Is(err, io.EOF) {
			log.Debug("input closed", zap.Int("batches", n))
			return ctx.Err()
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := serveBatch(ctx, b, wr, log); err != nil {
			return fmt.Errorf("batch %s: %w", b.ID, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func serveBatch(ctx context.Context, b *Batch, wr *Writer, log *zap.Logger) error {
	log = log.With(zap.Stringer("batch", b.ID))
	if b.Err != nil {
		log.Warn("rejected batch", zap.Error(b.Err))
		return wr.WriteFailure(b.Err)
	}

	start := time.Now()
	b.Options.Logger = log
	res, err := atlas.Generate(ctx, b.Decls, b.Options)
	if err != nil {
		log.Warn("rejected batch", zap.Error(err))
		return wr.WriteFailure(err)
	}
	if err := wr.WriteResult(b, res); err != nil {
		return err
	}

	failed := 0
	for _, mr := range res.Meshes {
		if mr.Err != nil {
			failed++
		}
	}
	log.Info("batch done",
		zap.Int("meshes", len(res.Meshes)),
		zap.Int("failed", failed),
		zap.Int("pages", len(res.Pages)),
		zap.Stringer("status", res.Status),
		zap.Duration("elapsed", time.Since(start)))
	if res.Status == atlas.StatusCancelled {
		return ctx.Err()
	}
	return nil
}
