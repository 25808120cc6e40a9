package uploads

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var errNotPDF = errors.New("uploads: not a PDF document")

// PDFValidator accepts only well-formed PDF documents.
type PDFValidator struct {
	conf *model.Configuration
}

func NewPDFValidator() *PDFValidator {
	// pdfcpu would otherwise create a config dir under $HOME, which is read-only on Lambda.
	api.DisableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFValidator{conf: conf}
}

func (v *PDFValidator) Validate(data []byte) error {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return errNotPDF
	}
	if err := api.Validate(bytes.NewReader(data), v.conf); err != nil {
		return fmt.Errorf("%w: %v", errNotPDF, err)
	}
	return nil
}
