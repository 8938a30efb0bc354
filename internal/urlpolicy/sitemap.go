package urlpolicy

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
)

// sitemapIndex and urlset mirror the two XML shapes a sitemap may take
// (a plain urlset, or an index of nested sitemaps).
type sitemapURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// FetchSitemap is a best-effort sitemap discovery: it tries /sitemap.xml at
// the seed's origin, follows one level of sitemap-index nesting, and
// returns zero URLs (never an error) on any failure, per spec §4.4.
func FetchSitemap(ctx context.Context, client *http.Client, seedURL string) []string {
	u, err := url.Parse(seedURL)
	if err != nil {
		return nil
	}
	sitemapURL := u.Scheme + "://" + u.Host + "/sitemap.xml"

	urls := fetchAndParseSitemap(ctx, client, sitemapURL, true)
	if urls != nil {
		return urls
	}
	return nil
}

// fetchAndParseSitemap follows the entries of a sitemap index only when
// followIndex is set, so nested indices are read one level deep.
func fetchAndParseSitemap(ctx context.Context, client *http.Client, sitemapURL string, followIndex bool) []string {
	body, err := getBody(ctx, client, sitemapURL)
	if err != nil {
		return nil
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err == nil && len(set.URLs) > 0 {
		out := make([]string, 0, len(set.URLs))
		for _, u := range set.URLs {
			if u.Loc != "" {
				out = append(out, u.Loc)
			}
		}
		return out
	}

	var idx sitemapIndex
	if err := xml.Unmarshal(body, &idx); followIndex && err == nil && len(idx.Sitemaps) > 0 {
		var out []string
		for _, s := range idx.Sitemaps {
			if s.Loc == "" {
				continue
			}
			out = append(out, fetchAndParseSitemap(ctx, client, s.Loc, false)...)
		}
		return out
	}

	return nil
}

func getBody(ctx context.Context, client *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, io.ErrUnexpectedEOF
	}
	return io.ReadAll(resp.Body)
}
