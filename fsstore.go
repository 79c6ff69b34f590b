package main

import (
	"context"
	"os"
	"path/filepath"
	"receipt_fiscalizer/receipts"

	"github.com/ansel1/merry"
)

// FsBlobStore keeps generated PDFs as files under the config dir. It
// provides the Uploader/Downloader pair the lifecycle service expects.
type FsBlobStore struct {
	dir string
}

func NewFsBlobStore(configDir string) (*FsBlobStore, error) {
	dir := filepath.Join(configDir, "pdfs")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, merry.Wrap(err)
	}
	return &FsBlobStore{dir: dir}, nil
}

func (s *FsBlobStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", merry.Wrap(err)
	}
	return path, nil
}

func (s *FsBlobStore) Download(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, receipts.ErrPdfDownloadFailed.Here().Append(err.Error())
	}
	return data, nil
}
