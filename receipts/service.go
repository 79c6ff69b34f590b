package receipts

import (
	"context"
	"time"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog/log"
)

// Store is the persistence the lifecycle service needs: reading one
// hydrated receipt and writing the PDF bookkeeping fields back.
type Store interface {
	GetReceiptForPdf(ctx context.Context, id int64) (*ReceiptForPdf, error)
	UpdateReceiptPdfMetadata(ctx context.Context, id int64, meta PdfMetadata) error
}

// PdfMetadata is one bookkeeping write. Nil time pointers leave the
// corresponding column untouched.
type PdfMetadata struct {
	Status       PdfStatus
	StoragePath  string
	ErrorMessage string
	StartedAt    *time.Time
	GeneratedAt  *time.Time
}

// Uploader persists finished PDF bytes and returns the storage path;
// Downloader fetches them back. Blob storage is entirely external to
// this service.
type Uploader func(ctx context.Context, name string, data []byte) (string, error)
type Downloader func(ctx context.Context, path string) ([]byte, error)

type EnsureStatus string

const (
	EnsureGenerated EnsureStatus = "generated"
	EnsureSkipped   EnsureStatus = "skipped"
	EnsureFailed    EnsureStatus = "failed"
)

type EnsureResult struct {
	Status      EnsureStatus `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	StoragePath string       `json:"storagePath,omitempty"`
}

// PdfService makes sure a fiscalized receipt has its durable PDF
// artifact. Generation is best effort: a failure lands in the pdf
// status columns and never propagates past EnsurePdf as an error.
type PdfService struct {
	store    Store
	upload   Uploader
	download Downloader
	build    func(*ReceiptForPdf) ([]byte, error)
}

func NewPdfService(store Store, upload Uploader, download Downloader, build func(*ReceiptForPdf) ([]byte, error)) *PdfService {
	return &PdfService{store: store, upload: upload, download: download, build: build}
}

// EnsurePdf runs the pdf status machine for one receipt:
// none->processing->succeeded|failed, with failed->processing retries.
// A receipt the authority has not confirmed is skipped, never rendered.
// A second call on a succeeded receipt short-circuits unless force is
// set. The processing marker is advisory only: two concurrent calls can
// both generate, which is harmless since generation is idempotent.
func (s *PdfService) EnsurePdf(ctx context.Context, receiptID int64, force bool) (EnsureResult, error) {
	rec, err := s.store.GetReceiptForPdf(ctx, receiptID)
	if err != nil {
		return EnsureResult{}, merry.Wrap(err)
	}

	if rec.CisStatus != CisStatusConfirmed {
		return EnsureResult{Status: EnsureSkipped, Reason: "not_fiscalized"}, nil
	}
	if !force && rec.PdfStatus == PdfStatusSucceeded && rec.PdfStoragePath != "" {
		return EnsureResult{Status: EnsureSkipped, Reason: "already_generated", StoragePath: rec.PdfStoragePath}, nil
	}

	now := time.Now()
	err = s.store.UpdateReceiptPdfMetadata(ctx, receiptID, PdfMetadata{
		Status:    PdfStatusProcessing,
		StartedAt: &now,
	})
	if err != nil {
		return EnsureResult{}, merry.Wrap(err)
	}

	path, genErr := s.generateAndUpload(ctx, rec)
	if genErr != nil {
		log.Warn().Err(genErr).Int64("receipt_id", receiptID).Msg("pdf generation failed")
		doneAt := time.Now()
		err = s.store.UpdateReceiptPdfMetadata(ctx, receiptID, PdfMetadata{
			Status:       PdfStatusFailed,
			ErrorMessage: genErr.Error(),
			GeneratedAt:  &doneAt,
		})
		if err != nil {
			return EnsureResult{}, merry.Wrap(err)
		}
		return EnsureResult{Status: EnsureFailed, Reason: genErr.Error()}, nil
	}

	doneAt := time.Now()
	err = s.store.UpdateReceiptPdfMetadata(ctx, receiptID, PdfMetadata{
		Status:      PdfStatusSucceeded,
		StoragePath: path,
		GeneratedAt: &doneAt,
	})
	if err != nil {
		return EnsureResult{}, merry.Wrap(err)
	}

	log.Info().Int64("receipt_id", receiptID).Str("path", path).Msg("pdf generated")
	return EnsureResult{Status: EnsureGenerated, StoragePath: path}, nil
}

// DownloadPdf fetches previously generated PDF bytes.
func (s *PdfService) DownloadPdf(ctx context.Context, receiptID int64) ([]byte, error) {
	rec, err := s.store.GetReceiptForPdf(ctx, receiptID)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	if rec.PdfStatus != PdfStatusSucceeded || rec.PdfStoragePath == "" {
		return nil, ErrPdfDownloadFailed.Here().Append("no generated pdf")
	}
	data, err := s.download(ctx, rec.PdfStoragePath)
	if err != nil {
		return nil, ErrPdfDownloadFailed.Here().Append(err.Error())
	}
	return data, nil
}

func (s *PdfService) generateAndUpload(ctx context.Context, rec *ReceiptForPdf) (string, error) {
	data, err := s.build(rec)
	if err != nil {
		return "", merry.Wrap(err)
	}
	path, err := s.upload(ctx, pdfObjectName(rec), data)
	if err != nil {
		return "", merry.Wrap(err)
	}
	return path, nil
}

func pdfObjectName(rec *ReceiptForPdf) string {
	return "receipt-" + rec.ReceiptNumber + "-" + rec.IssuedAt.Format("20060102T150405") + ".pdf"
}
