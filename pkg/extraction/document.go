package extraction

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	documentPart    = "word/document.xml"
	maxDocumentPart = 64 << 20
)

var zipMagic = []byte("PK\x03\x04")

// documentText reads the body text of an OOXML word-processing document.
// Legacy binary .doc payloads are rejected.
func documentText(data []byte) (string, error) {
	if !bytes.HasPrefix(data, zipMagic) {
		return "", errors.New("not an OOXML document (legacy binary .doc is not supported)")
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open document archive: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != documentPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", documentPart, err)
		}
		defer rc.Close()
		return documentBody(io.LimitReader(rc, maxDocumentPart))
	}
	return "", fmt.Errorf("document archive has no %s", documentPart)
}

func documentBody(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", documentPart, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
