package render

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// VerifyPDF reads a written document back and returns its page count.
// A document without pages is an error.
func VerifyPDF(path string) (int, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if pdfCtx.PageCount < 1 {
		return 0, fmt.Errorf("PDF %s has no pages", path)
	}
	return pdfCtx.PageCount, nil
}
