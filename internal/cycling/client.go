// Package cycling builds rider overviews from race startlist pages. The
// pages are static, so they are fetched over plain HTTP.
package cycling

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	crerr "github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/net/html/charset"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/config"
)

// maxBodyBytes caps a decoded startlist page.
const maxBodyBytes = 8 << 20

var ErrStartlist = crerr.New("startlist unavailable")

// Team is one startlist entry in page order.
type Team struct {
	Name   string   `json:"name"`
	Riders []string `json:"riders"`
}

type Client struct {
	http      *http.Client
	userAgent string
	maxBody   int64
	logger    *slog.Logger
}

func NewClient(cfg config.CyclingConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		maxBody:   maxBodyBytes,
		logger:    logger,
	}
}

// Fetch downloads and parses one startlist page.
func (c *Client) Fetch(ctx context.Context, url string) ([]Team, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Encoding", "gzip, br, zstd")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, crerr.Mark(crerr.Wrapf(err, "GET %s", url), ErrStartlist)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, crerr.Mark(crerr.Newf("GET %s: status %d", url, resp.StatusCode), ErrStartlist)
	}

	body, err := readBodyDecode(resp, c.maxBody)
	if err != nil {
		return nil, crerr.Mark(crerr.Wrapf(err, "read %s", url), ErrStartlist)
	}

	r, err := charset.NewReader(bytes.NewReader(body), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, crerr.Mark(crerr.Wrapf(err, "decode charset of %s", url), ErrStartlist)
	}
	return ParseStartlist(r)
}

// ParseStartlist reads teams and riders from a startlist page. A page
// without a startlist container is an error; an empty container is not.
func ParseStartlist(r io.Reader) ([]Team, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, crerr.Mark(crerr.Wrap(err, "parse startlist html"), ErrStartlist)
	}

	list := doc.Find("ul.startlist_v4")
	if list.Length() == 0 {
		return nil, crerr.Mark(crerr.New("no startlist container"), ErrStartlist)
	}

	teams := []Team{}
	list.First().ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		name := strings.TrimSpace(li.Find("a.team").First().Text())
		if name == "" {
			return
		}
		team := Team{Name: name, Riders: []string{}}
		li.Find("ul li").Each(func(_ int, rider *goquery.Selection) {
			if n := strings.TrimSpace(rider.Find("a").First().Text()); n != "" {
				team.Riders = append(team.Riders, n)
			}
		})
		teams = append(teams, team)
	})
	return teams, nil
}

// readBodyDecode returns the response body decoded per Content-Encoding.
// A decoded body over limit bytes is an error.
func readBodyDecode(resp *http.Response, limit int64) ([]byte, error) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch {
	case strings.Contains(enc, "br"):
		return readLimited(brotli.NewReader(resp.Body), limit)
	case strings.Contains(enc, "zstd"):
		r, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer r.Close()
		return readLimited(r, limit)
	case strings.Contains(enc, "gzip"):
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer r.Close()
		return readLimited(r, limit)
	default:
		return readLimited(resp.Body, limit)
	}
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, crerr.Newf("body exceeds %d bytes", limit)
	}
	return data, nil
}
