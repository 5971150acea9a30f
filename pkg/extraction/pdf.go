package extraction

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	if r.NumPage() == 0 {
		return "", fmt.Errorf("pdf has no pages")
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(out), nil
}
