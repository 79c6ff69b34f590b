package main

import (
	"context"
	"receipt_fiscalizer/receipts"
	"time"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog/log"
)

func pdfWorkerIter(ctx context.Context, store *ReceiptStore, pdfService *receipts.PdfService) error {
	ids, err := store.LoadPendingPdfReceipts(ctx, 5)
	if err != nil {
		return merry.Wrap(err)
	}

	for _, id := range ids {
		log.Info().Int64("receipt_id", id).Msg("generating pdf")

		res, err := pdfService.EnsurePdf(ctx, id, false)
		if err != nil {
			log.Warn().Err(err).Int64("receipt_id", id).Msg("pdf worker error")
			continue
		}
		log.Info().Int64("receipt_id", id).
			Str("status", string(res.Status)).Str("reason", res.Reason).
			Msg("pdf worker result")
	}
	return nil
}

// StartPdfWorker generates missing PDFs for confirmed receipts in the
// background: on every trigger from the API and periodically as a
// safety net for receipts whose earlier attempt failed.
func StartPdfWorker(ctx context.Context, store *ReceiptStore, pdfService *receipts.PdfService, triggerChan chan struct{}) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		if err := pdfWorkerIter(ctx, store, pdfService); err != nil {
			return merry.Wrap(err)
		}
		select {
		case <-triggerChan:
		case <-ticker.C:
		case <-ctx.Done():
			return merry.Wrap(ctx.Err())
		}
	}
}
