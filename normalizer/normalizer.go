package normalizer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"legalchat-backend/extractor"
	"legalchat-backend/models"
	"legalchat-backend/runtime"
)

// Markers embedded in message text by the client or by RenderAttachments
var (
	urlMarker    = regexp.MustCompile(`\[File: ([^(]+) \(([^)]+)\) - URL: ([^\]]+)\]`)
	inlineMarker = regexp.MustCompile(`(?s)\[File:\s*(.+?)\s*\(([^)]+)\)\s*-\s*Content:\s*(.+?)\]`)
)

// Extractor is the part of extractor.Extractor the normalizer depends on
type Extractor interface {
	Extract(ctx context.Context, name, mediaType, locator string, maxChars int) string
	Document(ctx context.Context, name, mediaType, locator string, maxChars int) (extractor.Result, error)
}

// Normalizer turns client conversation turns into runtime messages, replacing
// file markers with extracted file content
type Normalizer struct {
	extractor Extractor
	logger    *slog.Logger
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) {
		n.logger = l
	}
}

// New creates a Normalizer
func New(ex Extractor, opts ...Option) *Normalizer {
	n := &Normalizer{extractor: ex, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize maps every turn to a runtime message. Order and count are kept.
// system turns become developer turns, assistant stays, anything else is user.
func (n *Normalizer) Normalize(ctx context.Context, turns []models.ConversationTurn) []runtime.Message {
	out := make([]runtime.Message, 0, len(turns))
	for _, t := range turns {
		content := RenderAttachments(t.Content, t.Attachments)
		out = append(out, runtime.Message{
			Role:    MapRole(t.Role),
			Content: n.ProcessContent(ctx, content),
		})
	}
	return out
}

// MapRole maps a client role to the role the runtime expects
func MapRole(r models.Role) models.Role {
	switch r {
	case models.RoleSystem:
		return models.RoleDeveloper
	case models.RoleAssistant:
		return models.RoleAssistant
	default:
		return models.RoleUser
	}
}

// RenderAttachments appends one marker per attachment to content. Inline
// attachments get a Content marker, everything else a URL marker.
func RenderAttachments(content string, attachments []models.AttachmentRef) string {
	if len(attachments) == 0 {
		return content
	}
	var b strings.Builder
	b.WriteString(content)
	for _, a := range attachments {
		kind := "URL"
		if a.IsInline() {
			kind = "Content"
		}
		fmt.Fprintf(&b, "\n[File: %s (%s) - %s: %s]", a.Name, a.ContentType, kind, a.URL)
	}
	return b.String()
}

// ProcessContent replaces each file marker in text exactly once, in order of
// appearance. Replacement text is never scanned again, so extracted content
// that happens to look like a marker stays as is. Text without markers is
// returned unchanged.
func (n *Normalizer) ProcessContent(ctx context.Context, text string) string {
	locs := urlMarker.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 && !inlineMarker.MatchString(text) {
		return text
	}

	var b strings.Builder
	prev := 0
	for _, loc := range locs {
		n.replaceInline(ctx, &b, text[prev:loc[0]])
		name := strings.TrimSpace(text[loc[2]:loc[3]])
		mediaType := strings.TrimSpace(text[loc[4]:loc[5]])
		url := strings.TrimSpace(text[loc[6]:loc[7]])
		b.WriteString(n.fromURL(ctx, name, mediaType, url))
		prev = loc[1]
	}
	n.replaceInline(ctx, &b, text[prev:])
	return b.String()
}

// replaceInline handles Content markers in a segment that holds no URL marker
func (n *Normalizer) replaceInline(ctx context.Context, b *strings.Builder, segment string) {
	prev := 0
	for _, loc := range inlineMarker.FindAllStringSubmatchIndex(segment, -1) {
		b.WriteString(segment[prev:loc[0]])
		name := strings.TrimSpace(segment[loc[2]:loc[3]])
		mediaType := strings.TrimSpace(segment[loc[4]:loc[5]])
		payload := strings.TrimSpace(segment[loc[6]:loc[7]])
		b.WriteString(n.fromInline(ctx, name, mediaType, payload))
		prev = loc[1]
	}
	b.WriteString(segment[prev:])
}

func (n *Normalizer) fromURL(ctx context.Context, name, mediaType, url string) string {
	switch extractor.KindOf(mediaType) {
	case extractor.KindPDF:
		n.logger.Info("Processing PDF attachment", "file", name)
		text := n.extractor.Extract(ctx, name, mediaType, url, 0)
		return fmt.Sprintf("[PDF File: %s]\n%s\n[End of PDF]", name, text)
	case extractor.KindText, extractor.KindHTML:
		res, err := n.extractor.Document(ctx, name, mediaType, url, 0)
		if err != nil {
			n.logger.Error("Error reading text attachment", "file", name, "error", err)
			return fmt.Sprintf("[File: %s - Error decoding: %s]", name, err)
		}
		return fmt.Sprintf("[Text File: %s]\n%s\n[End of File]", name, res.Text)
	default:
		return fmt.Sprintf("[File: %s (%s) - Content not processed]", name, mediaType)
	}
}

func (n *Normalizer) fromInline(ctx context.Context, name, mediaType, payload string) string {
	switch extractor.KindOf(mediaType) {
	case extractor.KindPDF:
		text := n.extractor.Extract(ctx, name, mediaType, payload, 0)
		return fmt.Sprintf("\n\n[PDF File: %s]\n%s\n[End of PDF]\n\n", name, text)
	case extractor.KindText, extractor.KindHTML:
		res, err := n.extractor.Document(ctx, name, mediaType, payload, 0)
		if err != nil {
			n.logger.Error("Error decoding text file", "file", name, "error", err)
			return fmt.Sprintf("[File: %s - Error decoding: %s]", name, err)
		}
		return fmt.Sprintf("\n\n[Text File: %s]\n%s\n[End of File]\n\n", name, res.Text)
	case extractor.KindSpreadsheet:
		return "\n\n" + n.extractor.Extract(ctx, name, mediaType, payload, 0) + "\n\n"
	default:
		return n.extractor.Extract(ctx, name, mediaType, payload, 0)
	}
}
