package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"legalchat-backend/metrics"

	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
)

const (
	// DefaultPDFMaxChars bounds text extracted from a PDF (~12-15k tokens)
	DefaultPDFMaxChars = 50000
	// DefaultTextMaxChars bounds text extracted from plain text and CSV files
	DefaultTextMaxChars = 30000
)

// Media types recognised by the extractor
const (
	MediaTypePDF  = "application/pdf"
	MediaTypeText = "text/plain"
	MediaTypeCSV  = "text/csv"
	MediaTypeXLS  = "application/vnd.ms-excel"
	MediaTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MediaTypeHTML = "text/html"
)

// ErrUnsupportedType is returned for media types whose content is not extracted
var ErrUnsupportedType = errors.New("unsupported media type")

// Kind classifies a media type for extraction
type Kind int

const (
	KindOther Kind = iota
	KindPDF
	KindText
	KindSpreadsheet
	KindHTML
)

// KindOf maps a media type to its extraction kind
func KindOf(mediaType string) Kind {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case MediaTypePDF:
		return KindPDF
	case MediaTypeText, MediaTypeCSV:
		return KindText
	case MediaTypeXLS, MediaTypeXLSX:
		return KindSpreadsheet
	case MediaTypeHTML, "application/xhtml+xml":
		return KindHTML
	default:
		return KindOther
	}
}

// Readable reports whether Document can extract text for the kind
func (k Kind) Readable() bool {
	return k == KindPDF || k == KindText || k == KindHTML
}

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindText:
		return "text"
	case KindSpreadsheet:
		return "spreadsheet"
	case KindHTML:
		return "html"
	default:
		return "other"
	}
}

// Result is the bounded text extracted from one file
type Result struct {
	SourceName string
	MediaType  string
	Text       string
	Truncated  bool
	// TotalUnits is the page count for PDFs and the character count for text
	TotalUnits int
}

// Fetcher resolves a URL or storage locator to bytes
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Extractor turns attachment references into bounded plain text
type Extractor struct {
	fetcher      Fetcher
	pdfMaxChars  int
	textMaxChars int
	logger       *slog.Logger
}

// Option configures an Extractor
type Option func(*Extractor)

// WithPDFMaxChars overrides the PDF character budget
func WithPDFMaxChars(n int) Option {
	return func(e *Extractor) {
		e.pdfMaxChars = n
	}
}

// WithTextMaxChars overrides the plain text character budget
func WithTextMaxChars(n int) Option {
	return func(e *Extractor) {
		e.textMaxChars = n
	}
}

// WithLogger sets the logger used for extraction failures
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = l
	}
}

// New creates an Extractor. fetcher may be nil when only inline content is expected.
func New(fetcher Fetcher, opts ...Option) *Extractor {
	e := &Extractor{
		fetcher:      fetcher,
		pdfMaxChars:  DefaultPDFMaxChars,
		textMaxChars: DefaultTextMaxChars,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load returns the raw bytes behind a locator. data: URLs and bare base64 are
// decoded in place; anything else goes through the fetcher.
func (e *Extractor) Load(ctx context.Context, locator string) ([]byte, error) {
	locator = strings.TrimSpace(locator)
	if isInline(locator) {
		return DecodeInline(locator)
	}
	if e.fetcher == nil {
		return nil, fmt.Errorf("no fetcher configured for locator: %s", locator)
	}
	return e.fetcher.Fetch(ctx, locator)
}

// Document loads and extracts a PDF, text or HTML file. maxChars <= 0 selects
// the default budget for the media type.
func (e *Extractor) Document(ctx context.Context, name, mediaType, locator string, maxChars int) (Result, error) {
	kind := KindOf(mediaType)
	if !kind.Readable() {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}

	res, err := e.document(ctx, kind, locator, maxChars)
	metrics.Extractions.WithLabelValues(kind.String(), metrics.Status(err)).Inc()
	if err != nil {
		return Result{}, err
	}

	res.SourceName = name
	res.MediaType = mediaType
	return res, nil
}

func (e *Extractor) document(ctx context.Context, kind Kind, locator string, maxChars int) (Result, error) {
	data, err := e.Load(ctx, locator)
	if err != nil {
		return Result{}, err
	}

	if kind == KindPDF {
		if maxChars <= 0 {
			maxChars = e.pdfMaxChars
		}
		return ExtractPDF(data, maxChars)
	}
	if maxChars <= 0 {
		maxChars = e.textMaxChars
	}
	if kind == KindHTML {
		return ExtractHTML(data, locator, maxChars)
	}
	return ExtractText(data, maxChars)
}

// Extract returns the text of an attachment, or a placeholder describing why
// there is none. It never fails.
func (e *Extractor) Extract(ctx context.Context, name, mediaType, locator string, maxChars int) string {
	switch KindOf(mediaType) {
	case KindPDF:
		res, err := e.Document(ctx, name, mediaType, locator, maxChars)
		if err != nil {
			e.logger.Error("Error extracting PDF text", "file", name, "error", err)
			return fmt.Sprintf("[Error reading PDF: %s]", err)
		}
		return res.Text
	case KindText, KindHTML:
		res, err := e.Document(ctx, name, mediaType, locator, maxChars)
		if err != nil {
			e.logger.Error("Error decoding text file", "file", name, "error", err)
			return fmt.Sprintf("[File: %s - Error decoding: %s]", name, err)
		}
		return res.Text
	case KindSpreadsheet:
		metrics.Extractions.WithLabelValues(KindSpreadsheet.String(), "skipped").Inc()
		return fmt.Sprintf("[Excel/CSV File: %s - Data file attached]", name)
	default:
		metrics.Extractions.WithLabelValues(KindOther.String(), "skipped").Inc()
		return fmt.Sprintf("[File: %s (%s) - Content not processed]", name, mediaType)
	}
}

// ExtractPDF pulls plain text from a PDF page by page until maxChars is
// reached. Parser panics on malformed documents are returned as errors.
func ExtractPDF(data []byte, maxChars int) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, err
	}

	totalPages := reader.NumPage()
	var text strings.Builder
	length := 0
	truncated := false

	for i := 1; i <= totalPages; i++ {
		if length >= maxChars {
			truncated = true
			break
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return Result{}, fmt.Errorf("page %d: %w", i, err)
		}
		if pageText == "" {
			continue
		}

		header := fmt.Sprintf("\n--- Page %d ---\n", i)
		pageLen := utf8.RuneCountInString(header) + utf8.RuneCountInString(pageText)
		if length+pageLen > maxChars {
			remaining := maxChars - length
			text.WriteString(truncateRunes(pageText, remaining))
			fmt.Fprintf(&text, "\n\n[Content truncated at %d characters on page %d]", remaining, i)
			truncated = true
			break
		}

		text.WriteString(header)
		text.WriteString(pageText)
		length += pageLen
	}

	out := strings.TrimSpace(text.String())
	outLen := utf8.RuneCountInString(out)
	if truncated {
		out += fmt.Sprintf("\n\n[Note: PDF has %d pages. Content was truncated to fit context limits. Only the first %d characters are shown.]", totalPages, outLen)
	} else {
		out = fmt.Sprintf("[PDF contains %d pages, %d characters]\n\n%s", totalPages, outLen, out)
	}

	return Result{
		MediaType:  MediaTypePDF,
		Text:       out,
		Truncated:  truncated,
		TotalUnits: totalPages,
	}, nil
}

// ExtractText decodes UTF-8 text and truncates it to maxChars characters
func ExtractText(data []byte, maxChars int) (Result, error) {
	if !utf8.Valid(data) {
		return Result{}, errors.New("content is not valid UTF-8")
	}

	text := string(data)
	total := utf8.RuneCountInString(text)
	if total <= maxChars {
		return Result{MediaType: MediaTypeText, Text: text, TotalUnits: total}, nil
	}

	return Result{
		MediaType:  MediaTypeText,
		Text:       fmt.Sprintf("%s\n\n[Content truncated. Showing first %d of %d characters]", truncateRunes(text, maxChars), maxChars, total),
		Truncated:  true,
		TotalUnits: total,
	}, nil
}

// ExtractHTML reduces a web page to its readable article text, prefixed with
// the page title, and truncates it like ExtractText. pageURL resolves
// relative links and may be empty.
func ExtractHTML(data []byte, pageURL string, maxChars int) (Result, error) {
	base := &url.URL{}
	if u, err := url.Parse(pageURL); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		base = u
	}

	article, err := readability.FromReader(bytes.NewReader(data), base)
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return Result{}, errors.New("no readable content")
	}
	if title := strings.TrimSpace(article.Title); title != "" {
		text = title + "\n\n" + text
	}

	res, err := ExtractText([]byte(text), maxChars)
	if err != nil {
		return Result{}, err
	}
	res.MediaType = MediaTypeHTML
	return res, nil
}

// DecodeInline decodes a data: URL or a bare base64 payload
func DecodeInline(payload string) ([]byte, error) {
	if _, after, found := strings.Cut(payload, "base64,"); found {
		payload = after
	}
	payload = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, payload)

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some clients strip padding
		if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); rawErr == nil {
			return raw, nil
		}
		return nil, err
	}
	return data, nil
}

func isInline(locator string) bool {
	if strings.HasPrefix(locator, "data:") {
		return true
	}
	return !strings.Contains(locator, "://")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
