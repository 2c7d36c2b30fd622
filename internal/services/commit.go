package services

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/ocrworker/internal/metastore"
	"github.com/Lllllllleong/ocrworker/internal/models"
	"github.com/Lllllllleong/ocrworker/internal/storage"
)

// commit gathers the sidecar text of every new page and creates the new
// version in one transaction. A page without sidecar gets empty text.
func (p *OCRPipeline) commit(ctx context.Context, r *run) error {
	r.Transition(r.logCtx, models.StateCommitPending, "")

	nv := metastore.NewVersion{
		DocumentID:      r.DocumentID,
		SourceVersionID: r.SourceVersionID,
		VersionID:       r.TargetVersionID,
		FileName:        r.target,
		Lang:            r.Lang,
		Pages:           make([]metastore.NewPage, 0, len(r.TargetPageIDs)),
	}
	empty := 0
	for i, id := range r.TargetPageIDs {
		text, err := storage.EnsurePageText(ctx, p.deps.Mirror, id)
		if err != nil {
			return fmt.Errorf("failed to load text of page %d: %w", i+1, err)
		}
		if text == "" {
			empty++
		}
		nv.Pages = append(nv.Pages, metastore.NewPage{ID: id, Number: i + 1, Text: text})
	}

	version, err := p.deps.Store.CommitNewVersion(ctx, nv)
	if err != nil {
		return err
	}
	r.logCtx.Info("version committed",
		"number", version.Number,
		"pages", len(nv.Pages),
		"pagesWithoutText", empty)
	return nil
}
