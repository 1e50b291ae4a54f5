package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/yoockh/yoodocs/internal/utils"
)

// Supported reports whether uploads with this file name can be indexed.
func Supported(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf", ".txt", ".md":
		return true
	}
	return false
}

// MimeType returns the content type stored for an accepted upload.
func MimeType(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return "application/pdf"
	case ".md":
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Text returns the plain text of an uploaded file, chosen by extension.
func Text(fileName string, content []byte) (string, error) {
	const op = "extract.Text"

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		text, err := pdfText(content)
		if err != nil {
			return "", utils.E(utils.CodeInvalidArgument, op, "could not read pdf", err)
		}
		return text, nil
	case ".txt", ".md":
		return plainText(content), nil
	default:
		return "", utils.E(utils.CodeInvalidArgument, op, "unsupported file type", nil)
	}
}

// pdfText recovers from parser panics on malformed files.
func pdfText(content []byte) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var buf bytes.Buffer
	pages := r.NumPage()
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		buf.WriteString(pageText)
		if i < pages {
			buf.WriteByte('\n')
		}
	}
	return buf.String(), nil
}

func plainText(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "�")
	}
	return string(content)
}
