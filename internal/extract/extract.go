// Package extract pulls plain text out of uploaded resume documents.
package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	pdf "github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"

	"resumeforge/internal/errcode"
)

// Result holds the extracted text and the method that produced it.
type Result struct {
	Text   string `json:"extracted_text"`
	Method string `json:"method"`
}

// DefaultExtensions 是允许上传的扩展名。
var DefaultExtensions = []string{".pdf", ".docx", ".doc", ".txt", ".pptx", ".xlsx", ".csv"}

// Allowed reports whether filename has one of exts (lower-case, with dot).
func Allowed(filename string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

// Text extracts text according to the file extension.
func Text(filename string, data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, errcode.Validation("uploaded file is empty")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = fromPDF(data)
	case ".docx":
		text, err = fromDocx(data)
	case ".pptx":
		text, err = fromPptx(data)
	case ".xlsx":
		text, err = fromXlsx(data)
	case ".txt", ".csv":
		text = decodePlain(data)
	case ".doc":
		return Result{}, errcode.Validation("legacy .doc files are not supported, please save the file as .docx")
	default:
		return Result{}, errcode.Validation(fmt.Sprintf("unsupported file format %q", ext))
	}
	if errors.Is(err, errTooLarge) {
		return Result{}, errcode.Validation("document content is too large to process")
	}
	if err != nil {
		return Result{}, errcode.Rejected("could not read "+strings.TrimPrefix(ext, ".")+" file", err)
	}

	text = normalize(text)
	if text == "" {
		return Result{}, errcode.Validation("no text could be extracted from the file")
	}
	return Result{Text: text, Method: strings.TrimPrefix(ext, ".")}, nil
}

func fromPDF(data []byte) (text string, err error) {
	// ledongthuc/pdf panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	rs, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rs); err != nil {
		return "", fmt.Errorf("copy pdf text: %w", err)
	}
	return buf.String(), nil
}

var (
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	slideNameRe  = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	sheetNameRe  = regexp.MustCompile(`^xl/worksheets/sheet\d+\.xml$`)
	inlineStrRe  = regexp.MustCompile(`(?s)<is>(.*?)</is>`)
	spaceRunRe   = regexp.MustCompile(`[ \t\r\f\v]+`)
	newlineRunRe = regexp.MustCompile(`\n\s*\n+`)
)

// 解压上限：单个 XML 部件与整个包声明的解压后大小。
var (
	maxPartBytes    int64  = 8 << 20
	maxArchiveBytes uint64 = 64 << 20
)

var errTooLarge = errors.New("archive expands beyond the allowed size")

func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	var total uint64
	for _, f := range zr.File {
		total += f.UncompressedSize64
		if total > maxArchiveBytes {
			return nil, errTooLarge
		}
	}
	return zr, nil
}

// readPart reads one entry, stopping at maxPartBytes whatever size the header declares.
func readPart(f *zip.File) (string, error) {
	if f.UncompressedSize64 > uint64(maxPartBytes) {
		return "", fmt.Errorf("%s: %w", f.Name, errTooLarge)
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, maxPartBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Name, err)
	}
	if int64(len(b)) > maxPartBytes {
		return "", fmt.Errorf("%s: %w", f.Name, errTooLarge)
	}
	return string(b), nil
}

// xmlText turns paragraph ends into newlines and drops every tag.
func xmlText(xml, paragraphEnd string) string {
	xml = strings.ReplaceAll(xml, paragraphEnd, "\n")
	xml = strings.ReplaceAll(xml, "<w:tab/>", "\t")
	return unescapeXML(tagRe.ReplaceAllString(xml, ""))
}

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}

func fromDocx(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			xml, err := readPart(f)
			if err != nil {
				return "", err
			}
			return xmlText(xml, "</w:p>"), nil
		}
	}
	return "", fmt.Errorf("word/document.xml not found")
}

func fromPptx(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}

	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slideNameRe.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n: n, f: f})
		}
	}
	if len(slides) == 0 {
		return "", fmt.Errorf("no slides found")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var sb strings.Builder
	for _, s := range slides {
		xml, err := readPart(s.f)
		if err != nil {
			return "", err
		}
		sb.WriteString(xmlText(xml, "</a:p>"))
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

// fromXlsx reads the shared string table and inline strings; numeric cells are skipped.
func fromXlsx(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	found := false
	for _, f := range zr.File {
		switch {
		case f.Name == "xl/sharedStrings.xml":
			xml, err := readPart(f)
			if err != nil {
				return "", err
			}
			sb.WriteString(xmlText(xml, "</si>"))
			found = true
		case sheetNameRe.MatchString(f.Name):
			xml, err := readPart(f)
			if err != nil {
				return "", err
			}
			for _, m := range inlineStrRe.FindAllStringSubmatch(xml, -1) {
				sb.WriteString(unescapeXML(tagRe.ReplaceAllString(m[1], "")))
				sb.WriteString("\n")
			}
			found = true
		}
	}
	if !found {
		return "", fmt.Errorf("no worksheet content found")
	}
	return sb.String(), nil
}

// decodePlain handles UTF-8 (with or without BOM) and falls back to Windows-1252.
func decodePlain(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "")
	}
	return string(out)
}

func normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = spaceRunRe.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = newlineRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
