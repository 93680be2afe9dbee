package assetsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"charassets/domain"
	"charassets/netx"
	"charassets/obs"
	"charassets/store"
)

const (
	DefaultFlushEvery = 10
	sourceExt         = ".png"
)

// ObjectStore is the upload target; *ossstore.Store implements it.
type ObjectStore interface {
	ObjectKeyForVariant(variant, ext string) string
	Exists(objectKey string) (bool, error)
	PutFileFromPath(objectKey, localPath, contentType string) error
	PublicURL(objectKey string) string
}

type Downloader interface {
	Download(ctx context.Context, url, dst string) (int64, error)
}

// Notifier is told about every object that reached the bucket this run.
type Notifier interface {
	Publish(ctx context.Context, rec domain.UploadRecord) error
}

type Options struct {
	ConvertFormat bool
	CleanCache    bool
	FlushEvery    int
	CacheDir      string
}

type Deps struct {
	Store      ObjectStore
	Downloader Downloader
	Sources    []netx.AssetSource
	Uploads    *store.UploadLedger
	Failures   *store.FailureLedger
	Converter  Converter // nil disables conversion even if requested
	Notifier   Notifier  // optional
}

type Summary struct {
	Processed int `json:"processed"`
	Uploaded  int `json:"uploaded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Pipeline struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func New(deps Deps, opts Options, logger *slog.Logger) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, errors.New("asset sync: object store not configured")
	}
	if deps.Downloader == nil || deps.Uploads == nil || deps.Failures == nil {
		return nil, errors.New("asset sync: downloader/ledgers not configured")
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = DefaultFlushEvery
	}
	if strings.TrimSpace(opts.CacheDir) == "" {
		opts.CacheDir = filepath.Join(os.TempDir(), "charassets-cache")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		logger: logger,
		tracer: obs.Tracer("charassets/assetsync"),
		now:    time.Now,
	}, nil
}

// KeyFor is the object key a variant is stored under in this configuration.
func (p *Pipeline) KeyFor(variant string) string {
	return p.deps.Store.ObjectKeyForVariant(variant, p.targetExt())
}

func (p *Pipeline) targetExt() string {
	if p.opts.ConvertFormat && p.deps.Converter != nil {
		return p.deps.Converter.Ext()
	}
	return sourceExt
}

type itemResult int

const (
	itemUploaded itemResult = iota
	itemSkipped
	itemFailed
	// itemInterrupted: the run was cancelled mid-item; nothing is recorded.
	itemInterrupted
)

func (r itemResult) String() string {
	switch r {
	case itemUploaded:
		return "uploaded"
	case itemSkipped:
		return "skipped"
	case itemInterrupted:
		return "interrupted"
	default:
		return "failed"
	}
}

// Sync pushes variants in the given order. Item failures go to the failure
// ledger and never stop the batch. Both ledgers are flushed every FlushEvery
// items and once more at the end.
func (p *Pipeline) Sync(ctx context.Context, variants []string) (Summary, error) {
	start := time.Now()
	var sum Summary
	var runErr error

	for _, variant := range variants {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		variant = strings.TrimSpace(variant)
		if variant == "" {
			continue
		}

		res := p.syncOne(ctx, variant)
		if res == itemInterrupted {
			runErr = ctx.Err()
			break
		}
		obs.RecordSyncItem(res.String())
		sum.Processed++
		switch res {
		case itemUploaded:
			sum.Uploaded++
		case itemSkipped:
			sum.Skipped++
		default:
			sum.Failed++
		}

		if sum.Processed%p.opts.FlushEvery == 0 {
			if err := p.flush(); err != nil {
				p.logger.Error("periodic ledger flush failed", "processed", sum.Processed, "err", err)
			}
		}
	}

	if err := p.flush(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("flush ledgers: %w", err))
	}
	obs.RecordStage("sync", start, runErr)
	p.logger.Info("asset sync finished",
		"processed", sum.Processed,
		"uploaded", sum.Uploaded,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"elapsed", time.Since(start).String(),
	)
	return sum, runErr
}

func (p *Pipeline) flush() error {
	return errors.Join(p.deps.Uploads.Flush(), p.deps.Failures.Flush())
}

func (p *Pipeline) syncOne(ctx context.Context, variant string) itemResult {
	key := p.KeyFor(variant)
	if p.deps.Uploads.Has(key) {
		return itemSkipped
	}

	ctx, span := p.tracer.Start(ctx, "sync.item", trace.WithAttributes(
		attribute.String("variant", variant),
		attribute.String("object.key", key),
	))
	defer span.End()

	cachePath := p.cachePath(variant)
	if !fileExists(cachePath) {
		if err := p.download(ctx, variant, cachePath); err != nil {
			span.RecordError(err)
			if ctx.Err() != nil {
				return itemInterrupted
			}
			return itemFailed
		}
	}

	uploadPath, converted := cachePath, false
	if p.opts.ConvertFormat && p.deps.Converter != nil {
		out, err := p.deps.Converter.Convert(ctx, cachePath)
		if err != nil && ctx.Err() != nil {
			return itemInterrupted
		}
		if err != nil {
			p.logger.Warn("convert failed, uploading original", "variant", variant, "err", err)
		} else {
			uploadPath, converted = out, true
		}
	}

	rec := domain.UploadRecord{
		Key:       key,
		Variant:   variant,
		Converted: converted,
		URL:       p.deps.Store.PublicURL(key),
	}
	if info, err := os.Stat(uploadPath); err == nil {
		rec.Size = info.Size()
	}

	exists, err := p.deps.Store.Exists(key)
	if err != nil {
		// Fall through to a put; an overwrite of identical bytes is harmless.
		p.logger.Warn("remote existence check failed", "key", key, "err", err)
	}
	result := itemUploaded
	if exists {
		rec.Skipped = true
		result = itemSkipped
	} else {
		if err := p.deps.Store.PutFileFromPath(key, uploadPath, contentTypeFor(uploadPath)); err != nil {
			p.deps.Failures.AddUploadFailure(variant, key, err)
			p.logger.Warn("upload failed", "variant", variant, "key", key, "err", err)
			span.RecordError(err)
			return itemFailed
		}
	}
	rec.Timestamp = p.now()
	p.deps.Uploads.Put(rec)

	if result == itemUploaded && p.deps.Notifier != nil {
		if err := p.deps.Notifier.Publish(ctx, rec); err != nil {
			p.logger.Warn("upload notification failed", "key", key, "err", err)
		}
	}
	if p.opts.CleanCache {
		_ = os.Remove(cachePath)
		if uploadPath != cachePath {
			_ = os.Remove(uploadPath)
		}
	}
	return result
}

// download walks the asset sources in priority order. Only the last error is
// recorded; a variant that fails here is not retried until the next run.
// Cancellation stops the walk and is not recorded as a failure.
func (p *Pipeline) download(ctx context.Context, variant, dst string) error {
	if len(p.deps.Sources) == 0 {
		err := errors.New("no asset sources configured")
		p.deps.Failures.AddDownloadFailure(variant, "", err)
		return err
	}
	var (
		lastURL string
		lastErr error
	)
	for _, src := range p.deps.Sources {
		lastURL = src.URL(variant)
		if _, err := p.deps.Downloader.Download(ctx, lastURL, dst); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			lastErr = err
			p.logger.Debug("download attempt failed", "variant", variant, "source", src.Name, "err", err)
			continue
		}
		return nil
	}
	p.deps.Failures.AddDownloadFailure(variant, lastURL, lastErr)
	p.logger.Warn("download failed", "variant", variant, "url", lastURL, "err", lastErr)
	return lastErr
}

func (p *Pipeline) cachePath(variant string) string {
	return filepath.Join(p.opts.CacheDir, domain.FileName(variant)+sourceExt)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webp":
		return "image/webp"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
