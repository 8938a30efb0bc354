package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"

	"github.com/caiatech/crawlforge/internal/apierr"
	"github.com/caiatech/crawlforge/pkg/types"
)

// HTTPFetcher is a plain-HTTP reference Fetcher: it does not execute
// JavaScript (that is RenderFetcher's job) but handles the markdown/HTML/
// links/PDF formats directly, grounded on the teacher's ContentExtractor
// (internal/procurement/scraping/extractor.go) for the client/timeout/
// redirect-policy shape, with goquery/html-to-markdown/pdfcpu standing in
// for the teacher's hand-rolled selector extraction.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher builds an HTTPFetcher with the given default user agent.
// The per-request timeout comes from ScrapeOptions. ScrapeOptions.SkipTLSVerify
// is not applied: certificates are always verified by the default client.
func NewHTTPFetcher(userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		client:    &http.Client{},
		userAgent: userAgent,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, targetURL string, opts types.ScrapeOptions) (*types.PageResult, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.EffectiveTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, apierr.New(apierr.KindValidation, fmt.Errorf("invalid url %q: %w", targetURL, err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	client := f.client
	if opts.SkipTLSVerify {
		client = &http.Client{Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierr.New(apierr.KindTimeout, fmt.Errorf("fetching %s: %w", targetURL, ctx.Err()))
		}
		return nil, apierr.New(apierr.KindTransientNetwork, fmt.Errorf("fetching %s: %w", targetURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apierr.NewUpstream(ClassifyHTTPStatus(resp.StatusCode), resp.StatusCode,
			fmt.Errorf("upstream returned %d for %s", resp.StatusCode, targetURL))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.New(apierr.KindTransientNetwork, fmt.Errorf("reading body of %s: %w", targetURL, err))
	}

	contentType := resp.Header.Get("Content-Type")
	result := &types.PageResult{
		URL:        targetURL,
		SourceURL:  targetURL,
		StatusCode: resp.StatusCode,
		CreatedAt:  time.Now(),
		Metadata: types.PageMetadata{
			SourceURL:  targetURL,
			StatusCode: resp.StatusCode,
		},
	}

	switch {
	case strings.Contains(contentType, "application/pdf"):
		return f.fillPDF(result, body, opts, start)
	default:
		return f.fillHTML(result, body, targetURL, opts)
	}
}

func (f *HTTPFetcher) fillHTML(result *types.PageResult, body []byte, targetURL string, opts types.ScrapeOptions) (*types.PageResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, apierr.New(apierr.KindPermanentFetch, fmt.Errorf("parsing html from %s: %w", targetURL, err))
	}

	result.Metadata.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		result.Metadata.Description = desc
	}
	if lang, ok := doc.Find("html").Attr("lang"); ok {
		result.Metadata.Language = lang
	}

	for _, f := range opts.Formats {
		switch f.Type {
		case types.FormatRawHTML:
			result.RawHTML = string(body)
		case types.FormatHTML:
			result.HTML = string(body)
		case types.FormatMarkdown:
			out, err := md.NewConverter("", true, nil).ConvertString(string(body))
			if err != nil {
				log.Warn().Err(err).Str("url", targetURL).Msg("fetch: markdown conversion failed")
			} else {
				result.Markdown = out
			}
		case types.FormatLinks:
			result.Links = discoverLinks(doc, targetURL)
		}
	}
	if result.Links == nil {
		result.Links = discoverLinks(doc, targetURL)
	}

	if err := result.Validate(); err != nil {
		return nil, apierr.New(apierr.KindInternal, err)
	}
	return result, nil
}

func discoverLinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""
		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

// minPDFSeconds is the minimum wall-clock budget pdfcpu needs to extract
// text from even a small document; below this, the unit fails fast with
// apierr.KindInsufficientTimeForPDF instead of racing the context deadline
// (spec §8: "A PDF URL with timeout too small...").
const minPDFSeconds = 2

func (f *HTTPFetcher) fillPDF(result *types.PageResult, body []byte, opts types.ScrapeOptions, start time.Time) (*types.PageResult, error) {
	remaining := opts.EffectiveTimeout() - time.Since(start)
	if remaining < minPDFSeconds*time.Second {
		return nil, apierr.New(apierr.KindInsufficientTimeForPDF, fmt.Errorf("insufficient time to process PDF"))
	}

	text, err := extractPDFText(body)
	if err != nil {
		return nil, apierr.New(apierr.KindPermanentFetch, fmt.Errorf("extracting pdf text: %w", err))
	}
	result.PDFText = text
	if err := result.Validate(); err != nil {
		return nil, apierr.New(apierr.KindInternal, err)
	}
	return result, nil
}

// extractPDFText uses pdfcpu's file-based content extraction,
// grounded on ternarybob-quaero's pdf.Extractor.ExtractPages: pdfcpu has no
// in-memory text-extraction entry point, so the PDF is staged to a temp
// file and the per-page content files it writes are concatenated back.
func extractPDFText(body []byte) (string, error) {
	dir, err := os.MkdirTemp("", "crawlforge-pdf-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	inFile := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(inFile, body, 0o644); err != nil {
		return "", err
	}

	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(inFile, outDir, nil, conf); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, e.Name()))
		if err != nil {
			continue
		}
		buf.Write(content)
		buf.WriteString("\n")
	}
	return buf.String(), nil
}
