package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

func openZip(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

// readZipEntry returns the bytes of the named entry, or nil if it is absent.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return data, nil
	}
	return nil, nil
}

// joinMatches joins the last capture group of every match of re in s with sep.
func joinMatches(re *regexp.Regexp, s, sep string) string {
	parts := re.FindAllStringSubmatch(s, -1)
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p[len(p)-1]); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, sep)
}
