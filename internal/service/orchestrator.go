package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"paperreader/internal/converter"
	"paperreader/internal/device"
	"paperreader/internal/domain"
	apperrors "paperreader/pkg/errors"
)

// ConverterResolver is the slice of the converter registry the orchestrator needs.
type ConverterResolver interface {
	Device(ctx context.Context) device.Kind
	Resolve(name string, dev device.Kind) (*converter.Handle, error)
}

// ImageExtractor writes a PDF's embedded images into a directory.
type ImageExtractor interface {
	Extract(ctx context.Context, sourcePath, docID, outputDir string) ([]string, error)
}

// Orchestrator runs one document through conversion and commits its
// terminal outcome. It is the only writer of a document's artifacts.
type Orchestrator struct {
	converters ConverterResolver
	extractor  ImageExtractor
	images     domain.ImageStore
	store      domain.StateStore
	apiPrefix  string
	logger     domain.Logger
}

// NewOrchestrator creates a new conversion orchestrator
func NewOrchestrator(
	converters ConverterResolver,
	extractor ImageExtractor,
	images domain.ImageStore,
	store domain.StateStore,
	apiPrefix string,
	logger domain.Logger,
) *Orchestrator {
	return &Orchestrator{
		converters: converters,
		extractor:  extractor,
		images:     images,
		store:      store,
		apiPrefix:  strings.TrimRight(apiPrefix, "/"),
		logger:     logger,
	}
}

// Convert never returns an error and never panics: every failure becomes a
// committed failure outcome for docID alone.
func (o *Orchestrator) Convert(ctx context.Context, docID, sourcePath, converterName string) *domain.Outcome {
	start := time.Now()
	outcome := o.run(ctx, docID, sourcePath, converterName)

	if err := o.commit(outcome); err != nil {
		// The document reads as processing until Recover converts it again.
		o.logger.Error("Failed to commit conversion outcome", err, "doc_id", docID, "status", outcome.Status())
	}

	if outcome.Succeeded() {
		o.logger.Info("Conversion completed", "doc_id", docID, "images", len(outcome.Images), "elapsed_ms", time.Since(start).Milliseconds())
	} else {
		o.logger.Warn("Conversion failed", "doc_id", docID, "error_type", outcome.Failure.ErrorType, "error", outcome.Failure.Error, "elapsed_ms", time.Since(start).Milliseconds())
	}
	return outcome
}

const commitRetryDelay = 100 * time.Millisecond

// commit writes the outcome, retrying once on error.
func (o *Orchestrator) commit(outcome *domain.Outcome) error {
	err := o.store.Commit(outcome)
	if err == nil {
		return nil
	}
	o.logger.Warn("Commit failed, retrying", "doc_id", outcome.DocID, "error", err)
	time.Sleep(commitRetryDelay)
	return o.store.Commit(outcome)
}

func (o *Orchestrator) run(ctx context.Context, docID, sourcePath, converterName string) (outcome *domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = o.failure(docID, sourcePath, apperrors.NewConversionError(
				apperrors.ErrorTypeInternal, "conversion panicked", fmt.Errorf("%v", r)))
		}
	}()

	o.logger.Info("Conversion started", "doc_id", docID, "converter", converterName, "source", sourcePath)

	var handle *converter.Handle
	err := o.stage(docID, "resolve", func() error {
		var err error
		handle, err = o.converters.Resolve(converterName, o.converters.Device(ctx))
		return err
	})
	if err != nil {
		return o.failure(docID, sourcePath, apperrors.NewConversionError(
			apperrors.ErrorTypeConverterUnavailable, "no usable converter", err))
	}

	var engine converter.Engine
	err = o.stage(docID, "load", func() error {
		var err error
		engine, err = handle.Engine(ctx)
		return err
	})
	if err != nil {
		var devErr *converter.DeviceInitError
		if errors.As(err, &devErr) {
			return o.failure(docID, sourcePath, apperrors.NewConversionError(
				apperrors.ErrorTypeDeviceInitFailed, "converter failed to initialize on any device", err))
		}
		return o.failure(docID, sourcePath, apperrors.NewConversionError(
			apperrors.ErrorTypeConverterUnavailable, "converter failed to load", err))
	}

	var markdown string
	loadedOn := handle.LoadedDevice()
	err = o.stage(docID, "ocr", func() error {
		var err error
		markdown, err = engine.Convert(ctx, sourcePath)
		if err == nil || !errors.Is(err, converter.ErrDeviceInit) || loadedOn == device.CPU {
			return err
		}

		o.logger.Warn("Converter failed on accelerator, retrying document on CPU", "doc_id", docID, "converter", handle.Name(), "device", loadedOn, "error", err)
		if engine, err = handle.ReloadOnCPU(ctx); err != nil {
			return err
		}
		markdown, err = engine.Convert(ctx, sourcePath)
		return err
	})
	if err != nil {
		var devErr *converter.DeviceInitError
		if errors.Is(err, converter.ErrDeviceInit) || errors.As(err, &devErr) {
			return o.failure(docID, sourcePath, apperrors.NewConversionError(
				apperrors.ErrorTypeDeviceInitFailed, "converter failed on every device", err))
		}
		return o.failure(docID, sourcePath, apperrors.NewConversionError(
			apperrors.ErrorTypeOCRFailed, "OCR failed", err))
	}

	var imageIDs []string
	err = o.stage(docID, "images", func() error {
		dir, err := o.images.Path(docID)
		if err != nil {
			return err
		}
		imageIDs, err = o.extractor.Extract(ctx, sourcePath, docID, dir)
		return err
	})
	if err != nil {
		return o.failure(docID, sourcePath, apperrors.NewConversionError(
			apperrors.ErrorTypeImageExtractionFailed, "image extraction failed", err))
	}

	return &domain.Outcome{
		DocID:   docID,
		Content: o.stitch(docID, markdown, imageIDs),
		Images:  imageIDs,
	}
}

// stage times one pipeline step.
func (o *Orchestrator) stage(docID, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	o.logger.Debug("Conversion stage finished", "doc_id", docID, "stage", name, "ok", err == nil, "elapsed_ms", time.Since(start).Milliseconds())
	return err
}

// ImageURL is the path an extracted image is served under.
func (o *Orchestrator) ImageURL(docID, imageID string) string {
	return fmt.Sprintf("%s/documents/%s/images/%s", o.apiPrefix, docID, imageID)
}

// stitch appends one reference per image, in extraction order, in a trailing
// section. Images are not placed at their page position.
func (o *Orchestrator) stitch(docID, markdown string, imageIDs []string) string {
	if len(imageIDs) == 0 {
		return markdown
	}

	var b strings.Builder
	b.WriteString(markdown)
	b.WriteString(imagesSection)
	for i, id := range imageIDs {
		fmt.Fprintf(&b, "**Figure %d**: ![%s](%s)\n\n", i+1, id, o.ImageURL(docID, id))
	}
	return b.String()
}

const imagesSection = "\n\n## Document Images\n\n"

var figureRe = regexp.MustCompile(`(?m)^\*\*Figure \d+\*\*: !\[([^\]]+)\]\(`)

// StitchedImageIDs returns the image ids referenced by the trailing images
// section of committed content, in figure order.
func StitchedImageIDs(content string) []string {
	i := strings.LastIndex(content, imagesSection)
	if i < 0 {
		return []string{}
	}
	matches := figureRe.FindAllStringSubmatch(content[i+len(imagesSection):], -1)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}

func (o *Orchestrator) failure(docID, sourcePath string, err *apperrors.AppError) *domain.Outcome {
	return &domain.Outcome{
		DocID: docID,
		Failure: &domain.ErrorRecord{
			Error:      userMessage(err),
			ErrorType:  string(err.Type),
			Timestamp:  time.Now().UTC(),
			DocID:      docID,
			SourcePath: sourcePath,
			Trace:      trace(err),
		},
	}
}

func userMessage(err *apperrors.AppError) string {
	if err.Cause == nil {
		return err.Message
	}
	return err.Message + ": " + err.Cause.Error()
}

// trace lists the wrapped error chain, outermost first, followed by the
// current goroutine stack.
func trace(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		fmt.Fprintf(&b, "%s%T: %v\n", strings.Repeat("  ", depth), err, err)
		err = errors.Unwrap(err)
	}
	b.WriteString("\n")
	b.Write(debug.Stack())
	return b.String()
}
