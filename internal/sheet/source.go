package sheet

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/redact"
)

// Encoding identifies how a fetched document is encoded.
type Encoding int

const (
	EncodingCSV Encoding = iota
	EncodingXLSX
)

// Document is the raw payload returned by a Source.
type Document struct {
	Locator string
	Format  Encoding
	Body    []byte
}

// Source fetches tabular documents by locator.
type Source interface {
	Fetch(ctx context.Context, locator string) (Document, error)
}

// Parse imports a fetched document according to its format.
func Parse(doc Document) ([]contact.Record, error) {
	if doc.Format == EncodingXLSX {
		return ImportXLSX(doc.Body)
	}
	return Import(string(doc.Body))
}

// maxBodyBytes caps how much of a remote export is read.
const maxBodyBytes = 32 << 20

// HTTPSource fetches published spreadsheet exports over HTTP(S).
type HTTPSource struct {
	Client *http.Client
}

// NewHTTPSource returns an HTTPSource with a bounded client timeout.
func NewHTTPSource(timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{Client: &http.Client{Timeout: timeout}}
}

var sheetsURLRe = regexp.MustCompile(`^https://docs\.google\.com/spreadsheets/d/([A-Za-z0-9_-]+)`)
var gidRe = regexp.MustCompile(`[#&?]gid=([0-9]+)`)

// ExportURL rewrites a Google Sheets editor/share URL to its CSV export URL.
// Other URLs are returned unchanged.
func ExportURL(locator string) string {
	locator = strings.TrimSpace(locator)
	m := sheetsURLRe.FindStringSubmatch(locator)
	if m == nil || strings.Contains(locator, "/export?") || strings.Contains(locator, "/pub?") {
		return locator
	}
	q := url.Values{}
	q.Set("format", "csv")
	if g := gidRe.FindStringSubmatch(locator); g != nil {
		q.Set("gid", g[1])
	}
	return "https://docs.google.com/spreadsheets/d/" + m[1] + "/export?" + q.Encode()
}

func (s *HTTPSource) Fetch(ctx context.Context, locator string) (Document, error) {
	target := ExportURL(locator)
	if target == "" {
		return Document{}, &SourceUnavailableError{Locator: locator, Reason: "empty locator"}
	}

	hc := s.Client
	if hc == nil {
		hc = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Document{}, &SourceUnavailableError{Locator: locator, Reason: "invalid locator", Err: err}
	}
	req.Header.Set("Accept", "text/csv, application/vnd.openxmlformats-officedocument.spreadsheetml.sheet;q=0.9, */*;q=0.1")

	resp, err := hc.Do(req)
	if err != nil {
		return Document{}, &SourceUnavailableError{Locator: locator, Reason: "request failed", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Document{}, &SourceUnavailableError{Locator: locator, StatusCode: resp.StatusCode, Reason: "read body", Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return Document{}, &SourceUnavailableError{
			Locator:    locator,
			StatusCode: resp.StatusCode,
			Reason:     redact.Truncate(string(b), 256),
		}
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return Document{}, &SourceUnavailableError{Locator: locator, StatusCode: resp.StatusCode, Reason: "empty body"}
	}

	format := EncodingCSV
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/html":
		// Unpublished sheets answer 200 with a sign-in page.
		return Document{}, &SourceUnavailableError{Locator: locator, StatusCode: resp.StatusCode, Reason: "received an HTML page; is the sheet published?"}
	case strings.Contains(mediaType, "spreadsheetml"):
		format = EncodingXLSX
	}
	return Document{Locator: locator, Format: format, Body: b}, nil
}

// FileSource reads documents from the local filesystem.
type FileSource struct{}

func (FileSource) Fetch(_ context.Context, locator string) (Document, error) {
	path := strings.TrimSpace(locator)
	b, err := os.ReadFile(path)
	if err != nil {
		reason := "read file"
		if errors.Is(err, fs.ErrNotExist) {
			reason = "file does not exist"
		}
		return Document{}, &SourceUnavailableError{Locator: locator, Reason: reason, Err: err}
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return Document{}, &SourceUnavailableError{Locator: locator, Reason: "empty file"}
	}
	format := EncodingCSV
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		format = EncodingXLSX
	}
	return Document{Locator: locator, Format: format, Body: b}, nil
}

// AutoSource dispatches http(s) locators to HTTP and everything else to the filesystem.
type AutoSource struct {
	HTTP *HTTPSource
	File FileSource
}

func (a AutoSource) Fetch(ctx context.Context, locator string) (Document, error) {
	l := strings.ToLower(strings.TrimSpace(locator))
	if strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") {
		h := a.HTTP
		if h == nil {
			h = NewHTTPSource(0)
		}
		return h.Fetch(ctx, locator)
	}
	return a.File.Fetch(ctx, locator)
}
