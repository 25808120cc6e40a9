package uploads

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// minimalPDF builds a one-page document with a correct xref table.
func minimalPDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestPDFValidator(t *testing.T) {
	v := NewPDFValidator()

	require.NoError(t, v.Validate(minimalPDF()))

	require.ErrorIs(t, v.Validate([]byte("hello, plain text")), errNotPDF)
	require.ErrorIs(t, v.Validate([]byte("%PDF-1.4\ngarbage")), errNotPDF)
}
