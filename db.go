package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"receipt_fiscalizer/cis"
	"receipt_fiscalizer/receipts"

	"github.com/ansel1/merry"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

var ErrReceiptAlreadyExists = merry.New("receipt already exists")

var migrations = []func(*sql.Tx) error{
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		CREATE TABLE migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL,
			migrated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
		return merry.Wrap(err)
	},
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		CREATE TABLE receipts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			saved_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

			receipt_number TEXT NOT NULL,
			issued_at DATETIME NOT NULL,

			issuer TEXT NOT NULL DEFAULT '{}',
			customer TEXT NOT NULL DEFAULT '{}',
			payment_method TEXT NOT NULL DEFAULT 'K',
			currency TEXT NOT NULL DEFAULT 'EUR',
			items TEXT NOT NULL DEFAULT '[]',
			subtotal FLOAT NOT NULL DEFAULT 0,
			tax_amount FLOAT NOT NULL DEFAULT 0,
			total_amount FLOAT NOT NULL,

			jir TEXT NOT NULL DEFAULT '',
			zki TEXT NOT NULL DEFAULT '',
			cis_status TEXT NOT NULL DEFAULT 'pending',
			cis_error TEXT NOT NULL DEFAULT '',
			response_text TEXT NOT NULL DEFAULT '',

			pdf_status TEXT NOT NULL DEFAULT '',
			pdf_storage_path TEXT NOT NULL DEFAULT '',
			pdf_started_at DATETIME,
			pdf_generated_at DATETIME,

			UNIQUE(receipt_number, issued_at)
		)`)
		return merry.Wrap(err)
	},
}

func createTables(db *sql.DB) error {
	lastVersion := -1
	err := db.QueryRow(`SELECT version FROM migrations ORDER BY migrated_at DESC, id DESC LIMIT 1`).Scan(&lastVersion)
	if err != nil && err != sql.ErrNoRows && err.Error() != "no such table: migrations" {
		return merry.Wrap(err)
	}
	for version := lastVersion + 1; version < len(migrations); version += 1 {
		tx, err := db.Begin()
		if err != nil {
			return merry.Wrap(err)
		}
		if err := migrations[version](tx); err != nil {
			tx.Rollback()
			return merry.Wrap(err)
		}
		if _, err := tx.Exec(`INSERT INTO migrations (version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			return merry.Wrap(err)
		}
		if err := tx.Commit(); err != nil {
			tx.Rollback()
			return merry.Wrap(err)
		}
		log.Info().Int("version", version).Msg("migrated DB")
	}
	return nil
}

func setupDB(configDir string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", configDir+"/main.db")
	if err != nil {
		return nil, merry.Wrap(err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, merry.Wrap(err)
	}
	return db, nil
}

// ReceiptStore persists submitted receipts with their fiscalization and
// PDF bookkeeping. It implements receipts.Store for the PDF lifecycle
// service.
type ReceiptStore struct {
	db *sql.DB
}

func NewReceiptStore(db *sql.DB) *ReceiptStore {
	return &ReceiptStore{db: db}
}

// SaveSubmission inserts a receipt row before it is sent to the CIS.
// A receipt with the same number and issue date replaces the existing
// row unless that row was already confirmed: rejected and indeterminate
// submissions stay retryable.
func (s *ReceiptStore) SaveSubmission(ctx context.Context, rec *receipts.ReceiptForPdf) (int64, error) {
	issuer, err := json.Marshal(rec.Issuer)
	if err != nil {
		return 0, merry.Wrap(err)
	}
	customer, err := json.Marshal(rec.Customer)
	if err != nil {
		return 0, merry.Wrap(err)
	}
	items, err := json.Marshal(rec.Items)
	if err != nil {
		return 0, merry.Wrap(err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts (
			receipt_number, issued_at, issuer, customer,
			payment_method, currency, items,
			subtotal, tax_amount, total_amount
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.ReceiptNumber, rec.IssuedAt, issuer, customer,
		rec.PaymentMethod, rec.Currency, items,
		rec.Subtotal, rec.TaxAmount, rec.TotalAmount)
	if sqlite3Error, ok := err.(sqlite3.Error); ok {
		if sqlite3Error.ExtendedCode == sqlite3.ErrConstraintUnique {
			return s.resubmit(ctx, rec, issuer, customer, items)
		}
	}
	if err != nil {
		return 0, merry.Wrap(err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, merry.Wrap(err)
	}
	return rowID, nil
}

func (s *ReceiptStore) resubmit(ctx context.Context, rec *receipts.ReceiptForPdf, issuer, customer, items []byte) (int64, error) {
	var id int64
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, cis_status FROM receipts WHERE receipt_number = ? AND issued_at = ?`,
		rec.ReceiptNumber, rec.IssuedAt).Scan(&id, &status)
	if err != nil {
		return 0, merry.Wrap(err)
	}
	if receipts.CisStatus(status) == receipts.CisStatusConfirmed {
		return 0, ErrReceiptAlreadyExists.Here()
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE receipts
		SET issuer = ?, customer = ?, payment_method = ?, currency = ?, items = ?,
		    subtotal = ?, tax_amount = ?, total_amount = ?,
		    jir = '', zki = '', cis_status = 'pending', cis_error = '', response_text = '',
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		issuer, customer, rec.PaymentMethod, rec.Currency, items,
		rec.Subtotal, rec.TaxAmount, rec.TotalAmount, id)
	if err != nil {
		return 0, merry.Wrap(err)
	}
	return id, nil
}

// SaveFiscalResult records the submission outcome on the row.
func (s *ReceiptStore) SaveFiscalResult(ctx context.Context, id int64, result cis.ReceiptRequestResult) error {
	status := receipts.CisStatusFailed
	cisError := ""
	if result.Success {
		status = receipts.CisStatusConfirmed
	} else if len(result.Errors) > 0 {
		cisError = result.Errors[0].Message
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE receipts
		SET jir = ?, zki = ?, cis_status = ?, cis_error = ?, response_text = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		result.JIR, result.ZKI, status, cisError, result.ResponseText, id)
	return merry.Wrap(err)
}

const receiptSQLFields = `id, receipt_number, issued_at, issuer, customer,
payment_method, currency, items, subtotal, tax_amount, total_amount,
jir, zki, cis_status, cis_error,
pdf_status, pdf_storage_path, pdf_generated_at`

type sqlMultiScanner interface {
	Scan(...interface{}) error
}

func scanReceiptForPdf(row sqlMultiScanner) (*receipts.ReceiptForPdf, error) {
	rec := &receipts.ReceiptForPdf{}
	var issuer, customer, items []byte
	var generatedAt sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.ReceiptNumber, &rec.IssuedAt, &issuer, &customer,
		&rec.PaymentMethod, &rec.Currency, &items, &rec.Subtotal, &rec.TaxAmount, &rec.TotalAmount,
		&rec.JIR, &rec.ZKI, &rec.CisStatus, &rec.CisErrorMessage,
		&rec.PdfStatus, &rec.PdfStoragePath, &generatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(issuer, &rec.Issuer); err != nil {
		return nil, merry.Wrap(err)
	}
	if err := json.Unmarshal(customer, &rec.Customer); err != nil {
		return nil, merry.Wrap(err)
	}
	if err := json.Unmarshal(items, &rec.Items); err != nil {
		return nil, merry.Wrap(err)
	}
	if generatedAt.Valid {
		rec.PdfGeneratedAt = &generatedAt.Time
	}
	return rec, nil
}

func (s *ReceiptStore) GetReceiptForPdf(ctx context.Context, id int64) (*receipts.ReceiptForPdf, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+receiptSQLFields+` FROM receipts WHERE id = ?`, id)
	rec, err := scanReceiptForPdf(row)
	if err == sql.ErrNoRows {
		return nil, receipts.ErrReceiptNotFound.Here().Appendf("id %d", id)
	}
	if err != nil {
		return nil, merry.Wrap(err)
	}
	return rec, nil
}

func (s *ReceiptStore) UpdateReceiptPdfMetadata(ctx context.Context, id int64, meta receipts.PdfMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE receipts
		SET pdf_status = ?,
		    pdf_storage_path = CASE WHEN ? != '' THEN ? ELSE pdf_storage_path END,
		    pdf_started_at = COALESCE(?, pdf_started_at),
		    pdf_generated_at = COALESCE(?, pdf_generated_at),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		meta.Status, meta.StoragePath, meta.StoragePath,
		meta.StartedAt, meta.GeneratedAt, id)
	return merry.Wrap(err)
}

// ListReceipts returns the newest rows, optionally only those before
// the given id for paging.
func (s *ReceiptStore) ListReceipts(ctx context.Context, beforeID int64, limit int) ([]*receipts.ReceiptForPdf, error) {
	query := `SELECT ` + receiptSQLFields + ` FROM receipts`
	args := []interface{}{}
	if beforeID > 0 {
		query += ` WHERE id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	defer rows.Close()

	var recs []*receipts.ReceiptForPdf
	for rows.Next() {
		rec, err := scanReceiptForPdf(rows)
		if err != nil {
			return nil, merry.Wrap(err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, merry.Wrap(err)
	}
	return recs, nil
}

// LoadPendingPdfReceipts finds confirmed receipts whose PDF has not
// succeeded yet, for the background worker.
func (s *ReceiptStore) LoadPendingPdfReceipts(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM receipts
		WHERE cis_status = ? AND pdf_status != ?
		ORDER BY id
		LIMIT ?`,
		receipts.CisStatusConfirmed, receipts.PdfStatusSucceeded, limit)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, merry.Wrap(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, merry.Wrap(err)
	}
	return ids, nil
}
