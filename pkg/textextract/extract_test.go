package textextract

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extractBytes(t *testing.T, data []byte, fileType string) *ExtractedText {
	t.Helper()
	out, err := Extract(bytes.NewReader(data), int64(len(data)), fileType)
	require.NoError(t, err)
	return out
}

func TestExtractTXT(t *testing.T) {
	out := extractBytes(t, []byte("  hello world\n\nsecond paragraph\n "), ".txt")
	assert.Equal(t, "hello world\n\nsecond paragraph", out.Content)
	assert.Equal(t, []string{out.Content}, out.Pages)
	assert.Equal(t, "txt", out.Metadata["type"])
	assert.Equal(t, "1", out.Metadata["page_count"])
}

func TestExtractTXTNormalizes(t *testing.T) {
	out := extractBytes(t, []byte("\xef\xbb\xbfpage one\r\nline two\fpage two\xff"), "text/plain")
	assert.Equal(t, []string{"page one\nline two", "page two�"}, out.Pages)
	assert.Equal(t, "page one\nline two\n\npage two�", out.Content)
	assert.Equal(t, "2", out.Metadata["page_count"])
}

func docx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDOCXParagraphs(t *testing.T) {
	data := docx(t,
		`<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> docx</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>Fish &amp; chips</w:t><w:tab/><w:t>priced</w:t></w:r></w:p>`)

	out := extractBytes(t, data, "docx")
	assert.Equal(t, "Hello docx\n\nFish & chips\tpriced", out.Content)
	assert.Len(t, out.Pages, 1)
	assert.Equal(t, "docx", out.Metadata["type"])
}

func TestExtractDOCXWithoutBody(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Extract(bytes.NewReader(buf.Bytes()), int64(buf.Len()), ".docx")
	assert.Error(t, err)
}

func TestExtractRejectsUnknownType(t *testing.T) {
	_, err := Extract(bytes.NewReader(nil), 0, ".exe")
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.False(t, Supported(".exe"))
	for _, ext := range []string{".pdf", ".PDF", ".docx", ".txt", "application/pdf"} {
		assert.True(t, Supported(ext), ext)
	}
}

func TestExtractBrokenPDF(t *testing.T) {
	data := []byte("not a pdf")
	_, err := Extract(bytes.NewReader(data), int64(len(data)), "application/pdf")
	assert.Error(t, err)
}
