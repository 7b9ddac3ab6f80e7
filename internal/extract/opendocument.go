package extract

import (
	"fmt"
	"regexp"
)

const openDocumentContentPath = "content.xml"

// odfText matches text:p, text:h and text:span elements that hold plain text, in document order.
var odfText = regexp.MustCompile(`<text:(?:p|h|span)\b[^>]*>([^<]*)</text:(?:p|h|span)>`)

// extractOpenDocument handles .odp and .ods, whose text lives in content.xml.
func extractOpenDocument(content []byte) (string, error) {
	zr, err := openZip(content, "OpenDocument")
	if err != nil {
		return "", err
	}
	data, err := readZipEntry(zr, openDocumentContentPath)
	if err != nil {
		return "", fmt.Errorf("extract OpenDocument: %w", err)
	}
	if data == nil {
		return "", fmt.Errorf("extract OpenDocument: %s not found", openDocumentContentPath)
	}
	return joinMatches(odfText, string(data), "\n"), nil
}
