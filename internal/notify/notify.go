// Package notify tells downstream workers that a new document version is
// ready for preview generation and indexing.
package notify

import (
	"context"
	"log/slog"
)

// Task names and routes understood by the downstream workers.
const (
	TaskGeneratePreview = "s3_worker_generate_preview"
	TaskIndexAddDocs    = "index_add_docs"
	RoutePreview        = "s3preview"
	RouteIndex          = "i3"
)

type Notifier interface {
	GeneratePreview(ctx context.Context, documentID string) error
	IndexAdd(ctx context.Context, documentIDs []string) error
	Close() error
}

// LogNotifier only logs. It is used when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) GeneratePreview(_ context.Context, documentID string) error {
	n.logger.Info("preview generation requested", "task", TaskGeneratePreview, "documentId", documentID)
	return nil
}

func (n *LogNotifier) IndexAdd(_ context.Context, documentIDs []string) error {
	n.logger.Info("index update requested", "task", TaskIndexAddDocs, "documentIds", documentIDs)
	return nil
}

func (n *LogNotifier) Close() error { return nil }
