package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// OOXML documents are zip archives of XML parts. The text lives in
// word/document.xml for DOCX and in sharedStrings.xml plus the sheet
// parts for XLSX; no third-party parser is needed for plain text.

// extractDOCX returns the paragraph text of a .docx file
func extractDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open docx archive: %w", err)
	}
	defer zr.Close()

	data, err := readZipFile(&zr.Reader, "word/document.xml")
	if err != nil {
		return "", err
	}

	return parseDocumentXML(data)
}

// parseDocumentXML walks the WordprocessingML stream collecting text runs,
// with a newline per paragraph
func parseDocumentXML(data []byte) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))

	var b strings.Builder
	var inText bool
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}

	return b.String(), nil
}

// xlsxSharedStrings models the si/t entries of sharedStrings.xml
type xlsxSharedStrings struct {
	Items []struct {
		Text  string `xml:"t"`
		Parts []struct {
			Text string `xml:"t"`
		} `xml:"r"`
	} `xml:"si"`
}

// xlsxSheet models the cells of one worksheet part
type xlsxSheet struct {
	Rows []struct {
		Cells []struct {
			Type  string `xml:"t,attr"`
			Value string `xml:"v"`
		} `xml:"c"`
	} `xml:"sheetData>row"`
}

// extractXLSX returns the cell text of every worksheet, tab separated
// within a row and newline separated between rows
func extractXLSX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open xlsx archive: %w", err)
	}
	defer zr.Close()

	shared, err := readSharedStrings(&zr.Reader)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "xl/worksheets/sheet") || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		data, err := readZipFile(&zr.Reader, f.Name)
		if err != nil {
			return "", err
		}

		var sheet xlsxSheet
		if err := xml.Unmarshal(data, &sheet); err != nil {
			return "", fmt.Errorf("malformed worksheet %s: %w", f.Name, err)
		}

		for _, row := range sheet.Rows {
			var cells []string
			for _, cell := range row.Cells {
				value := cell.Value
				if cell.Type == "s" {
					if idx, err := strconv.Atoi(value); err == nil && idx >= 0 && idx < len(shared) {
						value = shared[idx]
					}
				}
				if value != "" {
					cells = append(cells, value)
				}
			}
			if len(cells) > 0 {
				b.WriteString(strings.Join(cells, "\t"))
				b.WriteString("\n")
			}
		}
	}

	return b.String(), nil
}

// readSharedStrings loads the shared string table; an archive without one
// simply has no shared strings
func readSharedStrings(zr *zip.Reader) ([]string, error) {
	data, err := readZipFile(zr, "xl/sharedStrings.xml")
	if err != nil {
		return nil, nil
	}

	var table xlsxSharedStrings
	if err := xml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("malformed sharedStrings.xml: %w", err)
	}

	values := make([]string, len(table.Items))
	for i, item := range table.Items {
		if item.Text != "" {
			values[i] = item.Text
			continue
		}
		var b strings.Builder
		for _, part := range item.Parts {
			b.WriteString(part.Text)
		}
		values[i] = b.String()
	}
	return values, nil
}

// readZipFile returns the content of one archive member
func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("archive member %s not found", name)
}
