package extract

import (
	"archive/zip"
	"fmt"
	"regexp"
	"strings"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// wtTag matches <w:t>text</w:t> with any attributes, e.g. xml:space="preserve".
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// docxParagraphEnd splits the body into paragraphs.
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)

	mainPartRe = regexp.MustCompile(`<Override[^>]*PartName="([^"]+)"[^>]*ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	// ContentType may also precede PartName.
	mainPartReversedRe = regexp.MustCompile(`<Override[^>]*ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]*PartName="([^"]+)"`)
)

// docxMainDocumentPath finds the main document part from [Content_Types].xml,
// falling back to word/document.xml.
func docxMainDocumentPath(zr *zip.Reader) string {
	types, err := readZipEntry(zr, contentTypesPath)
	if err != nil || types == nil {
		return docxDocumentXMLPath
	}
	for _, re := range []*regexp.Regexp{mainPartRe, mainPartReversedRe} {
		if m := re.FindSubmatch(types); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDocumentXMLPath
}

// extractDOCX reads the <w:t> runs of each paragraph. Runs inside a paragraph are
// concatenated as-is and paragraphs are separated by newlines.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}
	docPath := docxMainDocumentPath(zr)
	docXML, err := readZipEntry(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if docXML == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docPath)
	}

	var paragraphs []string
	for _, para := range docxParagraphEnd.Split(string(docXML), -1) {
		var b strings.Builder
		for _, m := range wtTag.FindAllStringSubmatch(para, -1) {
			b.WriteString(m[1])
		}
		if t := strings.TrimSpace(b.String()); t != "" {
			paragraphs = append(paragraphs, t)
		}
	}
	return strings.Join(paragraphs, "\n"), nil
}
