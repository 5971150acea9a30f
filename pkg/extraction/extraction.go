// Package extraction turns uploaded evidence files into normalized plain text.
package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
)

// Kind is the extraction strategy chosen for a media type.
type Kind int

const (
	KindUnsupported Kind = iota
	KindPlain
	KindPDF
	KindDocument
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindPDF:
		return "pdf"
	case KindDocument:
		return "document"
	case KindImage:
		return "image"
	default:
		return "unsupported"
	}
}

const (
	MediaTypePDF      = "application/pdf"
	MediaTypePlain    = "text/plain"
	MediaTypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaTypeMSWord   = "application/msword"
	MediaTypeMarkdown = "text/markdown"
	MediaTypeCSV      = "text/csv"
)

var kinds = map[string]Kind{
	MediaTypePDF:      KindPDF,
	MediaTypePlain:    KindPlain,
	MediaTypeMarkdown: KindPlain,
	MediaTypeCSV:      KindPlain,
	MediaTypeDOCX:     KindDocument,
	MediaTypeMSWord:   KindDocument,
	"image/png":       KindImage,
	"image/jpeg":      KindImage,
	"image/gif":       KindImage,
	"image/webp":      KindImage,
	"image/tiff":      KindImage,
	"image/bmp":       KindImage,
}

// Classify returns the canonical media type (parameters stripped, lower-cased)
// and its extraction kind.
func Classify(mediaType string) (string, Kind) {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mediaType)), KindUnsupported
	}
	kind, ok := kinds[mt]
	if !ok {
		return mt, KindUnsupported
	}
	return mt, kind
}

// IsSupported reports whether mediaType is on the ingestion allow-list.
func IsSupported(mediaType string) bool {
	_, kind := Classify(mediaType)
	return kind != KindUnsupported
}

// SupportedMediaTypes lists the accepted media types in sorted order.
func SupportedMediaTypes() []string {
	out := make([]string, 0, len(kinds))
	for mt := range kinds {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}

// Confidence is the extraction confidence recorded on an evidence record.
// Recognized text from images is less reliable than embedded text.
func Confidence(kind Kind) float64 {
	if kind == KindImage {
		return 0.7
	}
	return 0.95
}

// Extractor converts the bytes of a declared media type into normalized text.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte, mediaType string) (string, error)
}

type extractor struct {
	ocr    OCREngineFactory
	logger *zap.Logger
}

var _ Extractor = (*extractor)(nil)

// NewExtractor creates an Extractor. ocr may be nil, in which case image
// uploads fail with an extraction error.
func NewExtractor(ocr OCREngineFactory, logger *zap.Logger) Extractor {
	return &extractor{
		ocr:    ocr,
		logger: logger.Named("extraction"),
	}
}

func (e *extractor) Extract(ctx context.Context, filename string, data []byte, mediaType string) (text string, err error) {
	mt, kind := Classify(mediaType)
	if kind == KindUnsupported {
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnsupportedMediaType, mediaType)
	}

	fail := func(cause error) error {
		return &apperrors.ExtractionError{Filename: filename, MediaType: mt, Err: cause}
	}

	// Third-party parsers panic on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Extractor panicked",
				zap.String("filename", filename),
				zap.String("media_type", mt),
				zap.Any("panic", r))
			text, err = "", fail(fmt.Errorf("parser panic: %v", r))
		}
	}()

	if len(data) == 0 {
		return "", fail(errors.New("empty file"))
	}

	var raw string
	switch kind {
	case KindPlain:
		raw, err = plainText(data)
	case KindPDF:
		raw, err = pdfText(data)
	case KindDocument:
		raw, err = documentText(data)
	case KindImage:
		raw, err = e.recognize(ctx, data)
	}
	if err != nil {
		return "", fail(err)
	}

	text = Normalize(raw)
	if text == "" {
		return "", fail(errors.New("no text could be extracted"))
	}

	e.logger.Debug("Extracted text",
		zap.String("filename", filename),
		zap.String("kind", kind.String()),
		zap.Int("chars", utf8.RuneCountInString(text)))
	return text, nil
}

// recognize runs OCR with an engine scoped to this call. The engine is closed
// on every exit path, including cancellation and panics.
func (e *extractor) recognize(ctx context.Context, data []byte) (string, error) {
	if e.ocr == nil {
		return "", errors.New("no OCR engine configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	engine, err := e.ocr.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire OCR engine: %w", err)
	}
	defer func() {
		if cerr := engine.Close(context.WithoutCancel(ctx)); cerr != nil {
			e.logger.Warn("Failed to close OCR engine", zap.Error(cerr))
		}
	}()

	text, err := engine.Recognize(ctx, data)
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return text, nil
}

func plainText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), ""), nil
	}
	return string(data), nil
}

// Normalize collapses every whitespace run into a single character: a newline
// if the run contained a line break, otherwise a space. The result is trimmed
// and free of control characters.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inSpace := false
	sawBreak := false
	flush := func() {
		if !inSpace {
			return
		}
		if b.Len() > 0 {
			if sawBreak {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		inSpace = false
		sawBreak = false
	}

	for _, r := range s {
		switch {
		case isLineBreak(r):
			inSpace = true
			sawBreak = true
		case unicode.IsSpace(r):
			inSpace = true
		case unicode.IsControl(r) || r == utf8.RuneError || r == '\uFEFF':
			continue
		default:
			flush()
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}
