package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// zipOf builds an in-memory zip; entries are written in the given order as name, body pairs.
func zipOf(t *testing.T, entries ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for i := 0; i+1 < len(entries); i += 2 {
		fw, err := w.Create(entries[i])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(entries[i+1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const wordNS = `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("Hello world\nLine 2"), ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Hello world\nLine 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("hello\x80world"), ".rst")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "hello�world" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainBOM(t *testing.T) {
	got, _ := NewExtractor().ExtractBytes([]byte("\xef\xbb\xbfcaf\xc3\xa9"), ".MD")
	if got != "café" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_unknownExtension(t *testing.T) {
	got, err := NewExtractor().ExtractBytes([]byte("raw content"), ".xyz")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "raw content" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	if _, err := f.NewSheet("Totals"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Totals", "A1", "Sum")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Title\nValue 1\tValue 2\n\nTotals\nSum" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxParagraphs(t *testing.T) {
	doc := zipOf(t, "word/document.xml", wordNS+
		`<w:p w:rsidR="00A1"><w:r><w:t>Cats </w:t></w:r><w:r><w:t xml:space="preserve">sleep</w:t></w:r></w:p>`+
		`<w:p><w:r><w:t>Dogs bark</w:t></w:r></w:p>`+
		`<w:p></w:p></w:body></w:document>`)

	got, err := NewExtractor().ExtractBytes(doc, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Cats sleep\nDogs bark" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxContentTypes(t *testing.T) {
	tests := []struct {
		name     string
		override string
	}{
		{"part name first", `<Override PartName="/word/document2.xml" ContentType="` + docxMainContentType + `"/>`},
		{"content type first", `<Override ContentType="` + docxMainContentType + `" PartName="/word/document2.xml"/>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := zipOf(t,
				"[Content_Types].xml", `<Types>`+tt.override+`</Types>`,
				"word/document2.xml", wordNS+`<w:p><w:r><w:t>From document2</w:t></w:r></w:p></w:body></w:document>`)
			got, err := NewExtractor().ExtractBytes(doc, ".docx")
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != "From document2" {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestExtractBytes_docxMissingBody(t *testing.T) {
	doc := zipOf(t, "word/styles.xml", "<w:styles/>")
	if _, err := NewExtractor().ExtractBytes(doc, ".docx"); err == nil {
		t.Error("expected error when document.xml is missing")
	}
}

func slideXML(text string) string {
	return `<p:sld><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func TestExtractBytes_pptxSlideOrder(t *testing.T) {
	deck := zipOf(t,
		"ppt/slides/slide10.xml", slideXML("Tenth"),
		"ppt/slides/slide2.xml", slideXML("Second"),
		"ppt/slides/_rels/slide1.xml.rels", "<Relationships/>",
		"ppt/slides/slide1.xml", slideXML("First"))

	got, err := NewExtractor().ExtractBytes(deck, ".pptx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "First\nSecond\nTenth" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_pptxNotZip(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("not a zip"), ".pptx"); err == nil {
		t.Error("expected error for non-zip pptx")
	}
}

func TestExtractBytes_openDocument(t *testing.T) {
	content := `<office:document><office:body>` +
		`<text:h text:outline-level="1">Heading</text:h>` +
		`<text:p text:style-name="P1">First paragraph</text:p>` +
		`<table:table-cell><text:p><text:span>Cell value</text:span></text:p></table:table-cell>` +
		`</office:body></office:document>`
	for _, ext := range []string{".odp", ".ods"} {
		got, err := NewExtractor().ExtractBytes(zipOf(t, "content.xml", content), ext)
		if err != nil {
			t.Fatalf("%s: %v", ext, err)
		}
		if got != "Heading\nFirst paragraph\nCell value" {
			t.Errorf("%s: got %q", ext, got)
		}
	}
}

func TestExtractBytes_openDocumentMissingContent(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes(zipOf(t, "meta.xml", "<meta/>"), ".ods"); err == nil {
		t.Error("expected error when content.xml is missing")
	}
}

func TestExtract_file(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deck.PPTX")
	if err := os.WriteFile(path, zipOf(t, "ppt/slides/slide1.xml", slideXML("On disk")), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "On disk" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_nonexistent(t *testing.T) {
	if _, err := NewExtractor().Extract("/nonexistent/path/file.txt"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestSupported(t *testing.T) {
	for _, ext := range []string{".pdf", ".DOCX", ".odt", ".rtf", ".md"} {
		if !Supported(ext) {
			t.Errorf("Supported(%q) = false", ext)
		}
	}
	if Supported(".exe") {
		t.Error("Supported(.exe) = true")
	}
	exts := SupportedExtensions()
	if len(exts) != 11 || exts[0] != ".docx" {
		t.Errorf("SupportedExtensions() = %v", exts)
	}
}
