// Package pdf renders the report narrative and summary into a simple
// paginated PDF document.
package pdf

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
)

const (
	pageWidth    = 612
	pageHeight   = 792
	marginLeft   = 72
	marginTop    = 72
	fontSize     = 10
	titleSize    = 16
	lineHeight   = 14
	maxLineRunes = 92
	linesPerPage = 46
)

// Renderer builds report PDFs.
type Renderer struct{}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render produces a PDF with a title page heading followed by the body
// text, wrapped and paginated. The output is validated and optimised with
// pdfcpu before being returned.
func (r *Renderer) Render(title, body string) ([]byte, error) {
	pages := paginate(wrapLines(body))
	if len(pages) == 0 {
		pages = [][]string{{}}
	}

	raw := buildDocument(title, pages)

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(raw), conf)
	if err != nil {
		return nil, fmt.Errorf("pdf validation failed: %w", err)
	}

	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		return nil, fmt.Errorf("pdf write failed: %w", err)
	}

	log.Debug().
		Int("pages", len(pages)).
		Int("bytes", buf.Len()).
		Msg("Rendered report PDF")

	return buf.Bytes(), nil
}

// RenderToFile renders and writes the PDF to path.
func (r *Renderer) RenderToFile(title, body, path string) error {
	data, err := r.Render(title, body)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write PDF file: %w", err)
	}
	return nil
}

// wrapLines splits body text into display lines no wider than the page.
func wrapLines(body string) []string {
	var lines []string
	for _, paragraph := range strings.Split(body, "\n") {
		paragraph = strings.TrimRight(paragraph, " \t")
		if paragraph == "" {
			lines = append(lines, "")
			continue
		}
		runes := []rune(paragraph)
		for len(runes) > maxLineRunes {
			cut := maxLineRunes
			for i := maxLineRunes; i > maxLineRunes/2; i-- {
				if runes[i] == ' ' {
					cut = i
					break
				}
			}
			lines = append(lines, string(runes[:cut]))
			runes = runes[cut:]
			for len(runes) > 0 && runes[0] == ' ' {
				runes = runes[1:]
			}
		}
		lines = append(lines, string(runes))
	}
	return lines
}

func paginate(lines []string) [][]string {
	var pages [][]string
	for start := 0; start < len(lines); start += linesPerPage {
		end := start + linesPerPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}
	return pages
}

// escapeText escapes the characters with meaning inside PDF string
// literals.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "(", `\(`)
	s = strings.ReplaceAll(s, ")", `\)`)
	return s
}

// contentStream builds one page's content stream. The first page carries
// the document title above the body text.
func contentStream(title string, lines []string, first bool) string {
	var b strings.Builder
	y := pageHeight - marginTop

	if first && title != "" {
		fmt.Fprintf(&b, "BT\n/F1 %d Tf\n%d %d Td\n(%s) Tj\nET\n", titleSize, marginLeft, y, escapeText(title))
		y -= 2 * lineHeight
	}

	b.WriteString(fmt.Sprintf("BT\n/F2 %d Tf\n%d %d Td\n%d TL\n", fontSize, marginLeft, y, lineHeight))
	for i, line := range lines {
		if i > 0 {
			b.WriteString("T*\n")
		}
		fmt.Fprintf(&b, "(%s) Tj\n", escapeText(line))
	}
	b.WriteString("ET")
	return b.String()
}

// buildDocument assembles the PDF object tree with a correct xref table.
func buildDocument(title string, pages [][]string) []byte {
	// Objects: 1 catalog, 2 pages node, 3..3+n-1 page dicts,
	// 3+n..3+2n-1 content streams, then two font objects.
	n := len(pages)
	firstPageObj := 3
	firstContentObj := firstPageObj + n
	boldFontObj := firstContentObj + n
	bodyFontObj := boldFontObj + 1
	objCount := bodyFontObj + 1

	var kids []string
	for i := 0; i < n; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", firstPageObj+i))
	}

	var b strings.Builder
	offsets := make([]int, objCount)

	b.WriteString("%PDF-1.4\n")

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = b.Len()
	fmt.Fprintf(&b, "2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", strings.Join(kids, " "), n)

	for i := 0; i < n; i++ {
		offsets[firstPageObj+i] = b.Len()
		fmt.Fprintf(&b,
			"%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Contents %d 0 R /Resources << /Font << /F1 %d 0 R /F2 %d 0 R >> >> >>\nendobj\n",
			firstPageObj+i, pageWidth, pageHeight, firstContentObj+i, boldFontObj, bodyFontObj)
	}

	for i := 0; i < n; i++ {
		stream := contentStream(title, pages[i], i == 0)
		offsets[firstContentObj+i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
			firstContentObj+i, len(stream), stream)
	}

	offsets[boldFontObj] = b.Len()
	fmt.Fprintf(&b, "%d 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica-Bold >>\nendobj\n", boldFontObj)

	offsets[bodyFontObj] = b.Len()
	fmt.Fprintf(&b, "%d 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n", bodyFontObj)

	xrefOffset := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", objCount)
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i < objCount; i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", objCount, xrefOffset)

	return []byte(b.String())
}
