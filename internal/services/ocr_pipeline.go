package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/ocrworker/internal/allocator"
	"github.com/Lllllllleong/ocrworker/internal/metastore"
	"github.com/Lllllllleong/ocrworker/internal/models"
	"github.com/Lllllllleong/ocrworker/internal/notify"
	"github.com/Lllllllleong/ocrworker/internal/ocr"
	"github.com/Lllllllleong/ocrworker/internal/paths"
	"github.com/Lllllllleong/ocrworker/internal/pdf"
	"github.com/Lllllllleong/ocrworker/internal/storage"
	"github.com/Lllllllleong/ocrworker/internal/taskgraph"
	"github.com/google/uuid"
)

var (
	// ErrUnsupportedFormat fails a run permanently, without retry.
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrEmptyVersion      = errors.New("document version has no pages")
)

const (
	StatusDone   = "DONE"
	StatusFailed = "FAILED"
)

// Graph node names.
const (
	nodeDocument = "ocr-document"
	nodeStitch   = "stitch"
	nodeCommit   = "commit"
	nodePreview  = "preview"
	nodeNotify   = "notify"
)

func pageNode(number int) string { return fmt.Sprintf("ocr-page-%d", number) }

type OCRPipelineConfig struct {
	// Queue is the scheduler queue every node of a run is routed to.
	Queue        string
	DefaultLang  string
	PreviewWidth int
	MaxRetries   int
	Countdown    time.Duration
}

// OCRPipelineDeps are the collaborators of the pipeline.
type OCRPipelineDeps struct {
	Store     metastore.Store
	Mirror    storage.Mirror
	Allocator allocator.Allocator
	Engine    ocr.Engine
	Merger    pdf.Merger
	Notifier  notify.Notifier
	Scheduler *taskgraph.Scheduler
	// PageCount verifies the stitched file. Nil skips the check.
	PageCount func(path string) (int, error)
	Logger    *slog.Logger
}

// OCRPipeline turns the latest version of a document into a new, OCR'd
// version.
type OCRPipeline struct {
	deps   OCRPipelineDeps
	config OCRPipelineConfig
	logger *slog.Logger
}

func NewOCRPipeline(deps OCRPipelineDeps, config OCRPipelineConfig) (*OCRPipeline, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("metadata store is required")
	case deps.Mirror == nil:
		return nil, errors.New("storage mirror is required")
	case deps.Engine == nil:
		return nil, errors.New("ocr engine is required")
	case deps.Merger == nil:
		return nil, errors.New("pdf merger is required")
	case deps.Notifier == nil:
		return nil, errors.New("notifier is required")
	case deps.Scheduler == nil:
		return nil, errors.New("scheduler is required")
	case config.Queue == "":
		return nil, errors.New("queue name is required")
	}
	if deps.Allocator == nil {
		deps.Allocator = allocator.UUIDAllocator{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.PreviewWidth <= 0 {
		config.PreviewWidth = 300
	}
	return &OCRPipeline{deps: deps, config: config, logger: logger}, nil
}

// run carries everything the graph nodes of one submission share. It is
// fixed before the graph executes, except mimeType which the document node
// sets before any page node starts.
type run struct {
	*models.PipelineRun
	source   *models.DocumentVersion
	pages    []models.Page
	target   string // file name of the new version
	mimeType string
	logCtx   *slog.Logger

	// previewErr is set by the preview node. Indexing still runs after it.
	previewErr error
}

// Process runs the whole pipeline for req and returns once the run reached
// a terminal state.
func (p *OCRPipeline) Process(ctx context.Context, req *models.OCRRequest) (*models.OCRResponse, error) {
	lang := strings.ToLower(strings.TrimSpace(req.Lang))
	if lang == "" {
		lang = strings.ToLower(p.config.DefaultLang)
	}
	r := &run{PipelineRun: &models.PipelineRun{
		RunID:      uuid.NewString(),
		DocumentID: req.DocumentID,
		Lang:       lang,
	}}
	r.logCtx = p.logger.With("runId", r.RunID, "documentId", req.DocumentID, "lang", lang)
	r.Transition(r.logCtx, models.StateQueued, "submitted")

	if err := p.prepare(ctx, r); err != nil {
		return p.handleError(r, "failed to prepare pipeline run", err)
	}

	g, err := p.buildGraph(r)
	if err != nil {
		return p.handleError(r, "failed to build task graph", err)
	}

	report, err := p.deps.Scheduler.Execute(ctx, g)
	if err != nil {
		return p.handleError(r, "pipeline run failed", err)
	}
	if r.previewErr != nil {
		return p.handleError(r, "failed to generate preview", r.previewErr)
	}
	r.Transition(r.logCtx, models.StateDone, "")
	r.logCtx.Info("pipeline run complete", "versionId", r.TargetVersionID, "tasks", len(report.Nodes()))

	return &models.OCRResponse{
		Status:     StatusDone,
		RunID:      r.RunID,
		DocumentID: r.DocumentID,
		VersionID:  r.TargetVersionID,
		PageIDs:    r.TargetPageIDs,
	}, nil
}

// prepare loads the source version and fixes the target ids. Retries of the
// graph reuse these ids.
func (p *OCRPipeline) prepare(ctx context.Context, r *run) error {
	source, err := p.deps.Store.GetLatestVersion(ctx, r.DocumentID)
	if err != nil {
		return err
	}
	pages, err := p.deps.Store.GetPages(ctx, source.ID)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return fmt.Errorf("version %s: %w", source.ID, ErrEmptyVersion)
	}

	alloc, err := p.deps.Allocator.Allocate(ctx, source.ID+":"+r.Lang, len(pages))
	if err != nil {
		return fmt.Errorf("failed to allocate ids: %w", err)
	}
	if len(alloc.PageIDs) != len(pages) {
		return fmt.Errorf("allocator returned %d page ids for %d pages", len(alloc.PageIDs), len(pages))
	}

	r.source = source
	r.pages = pages
	r.target = targetFileName(source.FileName)
	r.SourceVersionID = source.ID
	r.SourceFileName = source.FileName
	r.SourcePageCount = len(pages)
	r.TargetVersionID = alloc.VersionID
	r.TargetPageIDs = alloc.PageIDs
	r.logCtx = r.logCtx.With("versionId", source.ID, "targetVersionId", alloc.VersionID)
	r.logCtx.Debug("target ids allocated", "pageIds", alloc.PageIDs)
	return nil
}

// targetFileName keeps the source name for PDFs. Images are stitched into a
// PDF, so their extension changes.
func targetFileName(name string) string {
	ext := filepath.Ext(name)
	if strings.EqualFold(ext, ".pdf") {
		return name
	}
	return strings.TrimSuffix(name, ext) + ".pdf"
}

func (p *OCRPipeline) buildGraph(r *run) (*taskgraph.Graph, error) {
	g := taskgraph.NewGraph()
	q := p.config.Queue

	err := g.Add(taskgraph.Node{
		Name:  nodeDocument,
		Queue: q,
		Run:   func(ctx context.Context) error { return p.fetchSource(ctx, r) },
		Retry: &taskgraph.RetryPolicy{
			MaxRetries: p.config.MaxRetries,
			Countdown:  p.config.Countdown,
			RetryIf:    func(err error) bool { return errors.Is(err, storage.ErrObjectNotFound) },
			OnRequeue: func(attempt int, err error) {
				r.Transition(r.logCtx, models.StateQueued, fmt.Sprintf("source not visible yet (attempt %d)", attempt))
			},
		},
	})
	if err != nil {
		return nil, err
	}

	pageNodes := make([]string, 0, len(r.TargetPageIDs))
	for i, pageID := range r.TargetPageIDs {
		number := i + 1
		name := pageNode(number)
		err := g.Add(taskgraph.Node{
			Name:  name,
			Queue: q,
			Run:   func(ctx context.Context) error { return p.ocrPage(ctx, r, number, pageID) },
		}, nodeDocument)
		if err != nil {
			return nil, err
		}
		pageNodes = append(pageNodes, name)
	}

	chain := []taskgraph.Node{
		{Name: nodeStitch, Queue: q, Run: func(ctx context.Context) error { return p.stitch(ctx, r) }},
		{Name: nodeCommit, Queue: q, Run: func(ctx context.Context) error { return p.commit(ctx, r) }},
		{Name: nodePreview, Queue: q, Run: func(ctx context.Context) error { return p.preview(ctx, r) }},
		{Name: nodeNotify, Queue: q, Run: func(ctx context.Context) error { return p.notifyIndex(ctx, r) }},
	}
	deps := pageNodes
	for _, node := range chain {
		if err := g.Add(node, deps...); err != nil {
			return nil, err
		}
		deps = []string{node.Name}
	}
	return g, nil
}

func (r *run) sourceKey() string {
	return paths.DocVerPath(r.source.ID, r.source.FileName)
}

// ensureSource makes the source version local. With the mirror disabled a
// missing local file is reported like a missing remote object, so the
// requeue policy covers both modes.
func (p *OCRPipeline) ensureSource(ctx context.Context, r *run) (string, error) {
	local, err := p.deps.Mirror.EnsureLocal(ctx, r.sourceKey())
	if err != nil {
		return "", err
	}
	info, err := os.Stat(local)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("source %s: %w", r.sourceKey(), storage.ErrObjectNotFound)
	}
	return local, nil
}

func (p *OCRPipeline) fetchSource(ctx context.Context, r *run) error {
	r.Transition(r.logCtx, models.StateSourceFetching, "")
	local, err := p.ensureSource(ctx, r)
	if err != nil {
		return err
	}
	mimeType, err := DetectMIME(local)
	if err != nil {
		return fmt.Errorf("failed to detect format of %s: %w", local, err)
	}
	if !SupportedMIME(mimeType) {
		return fmt.Errorf("%w: %s is %s", ErrUnsupportedFormat, r.source.FileName, mimeType)
	}
	// image sources are OCR'd whole, one frame per version
	if mimeType != "application/pdf" && r.SourcePageCount > 1 {
		return fmt.Errorf("%w: %s is an image with %d pages", ErrUnsupportedFormat, r.source.FileName, r.SourcePageCount)
	}
	r.mimeType = mimeType
	r.Transition(r.logCtx, models.StatePageOCRFanOut, mimeType)
	return nil
}

func (p *OCRPipeline) ocrPage(ctx context.Context, r *run, number int, pageID string) error {
	logCtx := r.logCtx.With("pageId", pageID, "pageNumber", number)

	local, err := p.ensureSource(ctx, r)
	if err != nil {
		return err
	}
	pageDir := paths.PagePath(pageID)
	err = p.deps.Engine.OCRPage(ctx, ocr.Request{
		SourcePath:   local,
		MimeType:     r.mimeType,
		OutputDir:    p.deps.Mirror.LocalPath(pageDir),
		SidecarDir:   p.deps.Mirror.LocalPath(paths.SidecarDir()),
		PageID:       pageID,
		PageNumber:   number,
		Lang:         r.Lang,
		PreviewWidth: p.config.PreviewWidth,
	})
	if err != nil {
		return err
	}
	if err := p.deps.Mirror.PublishDir(ctx, pageDir); err != nil {
		return fmt.Errorf("failed to publish page %d: %w", number, err)
	}
	logCtx.Debug("page published")
	return nil
}

func (p *OCRPipeline) stitch(ctx context.Context, r *run) error {
	r.Transition(r.logCtx, models.StateStitchBarrier, "")

	if err := storage.FetchPagePDFs(ctx, p.deps.Mirror, r.TargetPageIDs); err != nil {
		return fmt.Errorf("failed to fetch page pdfs: %w", err)
	}
	srcs := make([]string, 0, len(r.TargetPageIDs))
	for _, id := range r.TargetPageIDs {
		srcs = append(srcs, p.deps.Mirror.LocalPath(paths.PagePDFPath(id)))
	}

	dstKey := paths.DocVerPath(r.TargetVersionID, r.target)
	dst := p.deps.Mirror.LocalPath(dstKey)
	if err := p.deps.Merger.Merge(ctx, srcs, dst); err != nil {
		return err
	}
	if p.deps.PageCount != nil {
		n, err := p.deps.PageCount(dst)
		if err != nil {
			return err
		}
		if n != len(srcs) {
			return fmt.Errorf("stitched %d pages, want %d", n, len(srcs))
		}
	}
	r.logCtx.Info("pages stitched", "pages", len(srcs), "key", dstKey)
	return p.deps.Mirror.Publish(ctx, dstKey)
}

// preview never fails its node, so the index notification for the committed
// version goes out either way. Process reports the error once the graph
// settles.
func (p *OCRPipeline) preview(ctx context.Context, r *run) error {
	r.Transition(r.logCtx, models.StatePreviewPending, "")
	if err := p.deps.Notifier.GeneratePreview(ctx, r.DocumentID); err != nil {
		r.logCtx.Error("preview request failed, indexing anyway", "error", err)
		r.previewErr = err
	}
	return nil
}

func (p *OCRPipeline) notifyIndex(ctx context.Context, r *run) error {
	r.Transition(r.logCtx, models.StateNotifyPending, "")
	return p.deps.Notifier.IndexAdd(ctx, []string{r.DocumentID})
}

func (p *OCRPipeline) handleError(r *run, message string, originalErr error) (*models.OCRResponse, error) {
	r.logCtx.Error(message, "error", originalErr)
	r.Transition(r.logCtx, models.StateFailed, originalErr.Error())
	resp := &models.OCRResponse{
		Status:     StatusFailed,
		RunID:      r.RunID,
		DocumentID: r.DocumentID,
		Error:      originalErr.Error(),
	}
	return resp, fmt.Errorf("%s: %w", message, originalErr)
}
