// Package textextract pulls plain text out of uploaded PDF, DOCX and text
// files, keeping page boundaries where the format has them.
package textextract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var ErrUnsupportedType = errors.New("unsupported file type")

// ExtractedText holds the plain text of a document split by page. Formats
// without pagination yield a single page.
type ExtractedText struct {
	Content  string
	Pages    []string
	Metadata map[string]string
}

type format int

const (
	formatUnknown format = iota
	formatPDF
	formatDOCX
	formatTXT
)

func detect(fileType string) format {
	switch strings.ToLower(fileType) {
	case ".pdf", "pdf", "application/pdf":
		return formatPDF
	case ".docx", "docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return formatDOCX
	case ".txt", "txt", "text/plain":
		return formatTXT
	}
	return formatUnknown
}

// Supported reports whether fileType (extension or MIME type) can be extracted.
func Supported(fileType string) bool {
	return detect(fileType) != formatUnknown
}

func Extract(data io.ReaderAt, size int64, fileType string) (*ExtractedText, error) {
	var (
		out *ExtractedText
		err error
	)
	switch detect(fileType) {
	case formatPDF:
		out, err = extractPDF(data, size)
	case formatDOCX:
		out, err = extractDOCX(data, size)
	case formatTXT:
		out, err = extractTXT(data, size)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
	if err != nil {
		return nil, err
	}
	out.Content = strings.Join(out.Pages, "\n\n")
	out.Metadata["page_count"] = strconv.Itoa(len(out.Pages))
	return out, nil
}

func extractPDF(data io.ReaderAt, size int64) (_ *ExtractedText, err error) {
	// The PDF reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	failed := 0
	for i := 1; i <= numPages; i++ {
		text, ok := pdfPageText(reader.Page(i))
		if !ok {
			failed++
		}
		pages = append(pages, text)
	}

	meta := map[string]string{"type": "pdf"}
	if failed > 0 {
		meta["pages_unreadable"] = strconv.Itoa(failed)
	}
	if title := pdfTitle(reader); title != "" {
		meta["title"] = title
	}
	return &ExtractedText{Pages: pages, Metadata: meta}, nil
}

// pdfPageText returns the page's text one visual row per line, so paragraph
// breaks survive as blank lines.
func pdfPageText(page pdf.Page) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			text, ok = "", false
		}
	}()

	if page.V.IsNull() {
		return "", true
	}
	rows, err := page.GetTextByRow()
	if err != nil {
		return "", false
	}

	var b strings.Builder
	for _, row := range rows {
		for _, t := range row.Content {
			b.WriteString(t.S)
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), true
}

func pdfTitle(reader *pdf.Reader) (title string) {
	defer func() {
		if recover() != nil {
			title = ""
		}
	}()
	return strings.TrimSpace(reader.Trailer().Key("Info").Key("Title").Text())
}

func extractDOCX(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := zip.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open DOCX: %w", err)
	}

	for _, f := range reader.File {
		if path.Clean(f.Name) != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open document.xml: %w", err)
		}
		defer rc.Close()

		text, err := docxText(rc)
		if err != nil {
			return nil, fmt.Errorf("parse document.xml: %w", err)
		}
		return &ExtractedText{
			Pages:    []string{text},
			Metadata: map[string]string{"type": "docx"},
		}, nil
	}
	return nil, errors.New("open DOCX: word/document.xml not found")
}

// docxText walks WordprocessingML, emitting run text and turning paragraph
// ends into blank lines.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
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
				b.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// extractTXT treats form feeds as page breaks.
func extractTXT(data io.ReaderAt, size int64) (*ExtractedText, error) {
	buf := make([]byte, size)
	if _, err := data.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read TXT: %w", err)
	}

	buf = bytes.TrimPrefix(buf, []byte("\xef\xbb\xbf"))
	text := string(buf)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var pages []string
	for _, p := range strings.Split(text, "\f") {
		pages = append(pages, strings.TrimSpace(p))
	}
	return &ExtractedText{
		Pages:    pages,
		Metadata: map[string]string{"type": "txt"},
	}, nil
}
