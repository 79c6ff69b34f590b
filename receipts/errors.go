package receipts

import "github.com/ansel1/merry"

var ErrReceiptNotFound = merry.New("receipt not found")
var ErrPdfDownloadFailed = merry.New("pdf download failed")
