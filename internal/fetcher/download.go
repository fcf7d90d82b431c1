package fetcher

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNoOpenAccess is returned when a paper exists but no free PDF is known.
var ErrNoOpenAccess = errors.New("fetcher: no open access PDF")

// Endpoints are the metadata service base URLs.
type Endpoints struct {
	ArxivAPI    string
	ArxivPDF    string
	Unpaywall   string
	SemanticAPI string
}

// DefaultEndpoints returns the public service URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		ArxivAPI:    "http://export.arxiv.org/api/query",
		ArxivPDF:    "https://arxiv.org/pdf/",
		Unpaywall:   "https://api.unpaywall.org/v2/",
		SemanticAPI: "https://api.semanticscholar.org/graph/v1/paper/",
	}
}

// Paper is the metadata used to name a downloaded file.
type Paper struct {
	Title       string `json:"title"`
	FirstAuthor string `json:"first_author"`
	Year        string `json:"year"`
	PDFURL      string `json:"pdf_url"`
}

// FileStem builds "<Author><Year>_<Title>" with the title cut to 50
// characters.
func (p Paper) FileStem() string {
	author := p.FirstAuthor
	if author == "" {
		author = "unknown"
	}
	title := []rune(strings.TrimSpace(p.Title))
	if len(title) > 50 {
		title = title[:50]
	}
	return author + p.Year + "_" + Sanitize(string(title))
}

// Result describes one download.
type Result struct {
	Path    string `json:"path"`
	Bytes   int64  `json:"bytes"`
	Existed bool   `json:"existed"`
	Paper   *Paper `json:"paper,omitempty"`
}

// Downloader saves papers into Dir.
type Downloader struct {
	http      *HTTPFetcher
	dir       string
	email     string
	endpoints Endpoints
}

// NewDownloader creates a Downloader writing into dir. email is sent to
// Unpaywall, which requires one.
func NewDownloader(f *HTTPFetcher, dir, email string, ep Endpoints) *Downloader {
	return &Downloader{http: f, dir: dir, email: email, endpoints: ep}
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	spaceRun    = regexp.MustCompile(`\s+`)
)

// Sanitize removes characters that are unsafe in file names, joins words
// with underscores and caps the result at 100 characters.
func Sanitize(name string) string {
	name = unsafeChars.ReplaceAllString(name, "")
	name = spaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
	if r := []rune(name); len(r) > 100 {
		name = string(r[:100])
	}
	return name
}

// URL downloads a PDF from rawURL. The file is named after name when given,
// otherwise after the last URL path segment. An existing file is kept.
func (d *Downloader) URL(ctx context.Context, rawURL, name string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, eris.Errorf("fetcher: invalid URL %q", rawURL)
	}

	var file string
	if name != "" {
		file = Sanitize(name) + ".pdf"
	} else {
		file = path.Base(u.Path)
		if file == "/" || file == "." {
			file = Sanitize(u.Host)
		}
		if !strings.HasSuffix(strings.ToLower(file), ".pdf") {
			file += ".pdf"
		}
	}
	dest := filepath.Join(d.dir, file)

	if _, err := os.Stat(dest); err == nil {
		zap.L().Info("fetcher: already downloaded", zap.String("path", dest))
		return &Result{Path: dest, Existed: true}, nil
	}

	zap.L().Info("fetcher: downloading", zap.String("url", rawURL), zap.String("path", dest))
	n, err := d.http.DownloadPDF(ctx, rawURL, dest)
	if err != nil {
		return nil, err
	}
	return &Result{Path: dest, Bytes: n}, nil
}

func (d *Downloader) fetchPaper(ctx context.Context, p *Paper) (*Result, error) {
	r, err := d.URL(ctx, p.PDFURL, p.FileStem())
	if err != nil {
		return nil, err
	}
	r.Paper = p
	return r, nil
}

// NormalizeArxivID strips an "arXiv:" prefix and any URL path, and a
// trailing ".pdf".
func NormalizeArxivID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(strings.ToLower(id), "arxiv:") {
		id = id[len("arxiv:"):]
	}
	if strings.Contains(id, "arxiv.org/") {
		id = id[strings.LastIndex(id, "/")+1:]
	}
	return strings.TrimSuffix(id, ".pdf")
}

type arxivFeed struct {
	Entries []struct {
		ID      string `xml:"id"`
		Title   string `xml:"title"`
		Authors []struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

// Arxiv looks up the paper in the arXiv API and downloads its PDF.
func (d *Downloader) Arxiv(ctx context.Context, id string) (*Result, error) {
	id = NormalizeArxivID(id)
	if id == "" {
		return nil, eris.New("fetcher: empty arXiv id")
	}

	body, err := d.http.Get(ctx, d.endpoints.ArxivAPI+"?id_list="+url.QueryEscape(id))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: arXiv lookup %s", id)
	}
	p, err := parseArxiv(body, id)
	if err != nil {
		return nil, err
	}
	p.PDFURL = d.endpoints.ArxivPDF + id + ".pdf"
	return d.fetchPaper(ctx, p)
}

func parseArxiv(body []byte, id string) (*Paper, error) {
	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, eris.Wrap(err, "fetcher: parse arXiv feed")
	}
	// arXiv answers unknown ids with an entry whose id is the error page.
	if len(feed.Entries) == 0 || strings.Contains(feed.Entries[0].ID, "api/errors") {
		return nil, eris.Wrapf(ErrNotFound, "fetcher: arXiv %s", id)
	}
	e := feed.Entries[0]

	p := &Paper{Title: collapse(e.Title), FirstAuthor: "unknown", Year: arxivYear(id)}
	if len(e.Authors) > 0 {
		p.FirstAuthor = lastName(e.Authors[0].Name)
	}
	return p, nil
}

// arxivYear reads the year from new-style ids (YYMM.NNNNN). Old-style ids
// (category/YYMMNNN) have no leading digit and give "unknown".
func arxivYear(id string) string {
	if len(id) < 2 || !unicode.IsDigit(rune(id[0])) {
		return "unknown"
	}
	return "20" + id[:2]
}

type unpaywallLocation struct {
	URLForPDF string `json:"url_for_pdf"`
}

type unpaywallResponse struct {
	Title          string              `json:"title"`
	Year           json.Number         `json:"year"`
	DOIURL         string              `json:"doi_url"`
	BestOALocation *unpaywallLocation  `json:"best_oa_location"`
	OALocations    []unpaywallLocation `json:"oa_locations"`
	Authors        []struct {
		Family string `json:"family"`
	} `json:"z_authors"`
}

// NormalizeDOI strips a doi.org URL prefix.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "doi:"} {
		doi = strings.TrimPrefix(doi, prefix)
	}
	return doi
}

// DOI finds an open-access PDF for doi through Unpaywall, preferring the
// best location and then the first location with a PDF.
func (d *Downloader) DOI(ctx context.Context, doi string) (*Result, error) {
	doi = NormalizeDOI(doi)
	if d.email == "" {
		return nil, eris.New("fetcher: download.email must be set for DOI lookups")
	}

	body, err := d.http.Get(ctx, d.endpoints.Unpaywall+doi+"?email="+url.QueryEscape(d.email))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: Unpaywall lookup %s", doi)
	}
	p, err := parseUnpaywall(body, doi)
	if err != nil {
		return nil, err
	}
	return d.fetchPaper(ctx, p)
}

func parseUnpaywall(body []byte, doi string) (*Paper, error) {
	var resp unpaywallResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "fetcher: parse Unpaywall response")
	}

	p := &Paper{Title: resp.Title, FirstAuthor: "unknown", Year: resp.Year.String()}
	if len(resp.Authors) > 0 && resp.Authors[0].Family != "" {
		p.FirstAuthor = resp.Authors[0].Family
	}
	if resp.BestOALocation != nil {
		p.PDFURL = resp.BestOALocation.URLForPDF
	}
	for _, loc := range resp.OALocations {
		if p.PDFURL != "" {
			break
		}
		p.PDFURL = loc.URLForPDF
	}
	if p.PDFURL == "" {
		return nil, eris.Wrapf(ErrNoOpenAccess, "fetcher: DOI %s (see %s)", doi, resp.DOIURL)
	}
	return p, nil
}

type semanticResponse struct {
	Title   string `json:"title"`
	Year    int    `json:"year"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	OpenAccessPDF *struct {
		URL string `json:"url"`
	} `json:"openAccessPdf"`
}

// Scholar downloads the open-access PDF Semantic Scholar lists for id. id
// may be a paper URL.
func (d *Downloader) Scholar(ctx context.Context, id string) (*Result, error) {
	id = strings.TrimSpace(id)
	if strings.Contains(id, "semanticscholar.org") {
		id = strings.TrimRight(id, "/")
		id = id[strings.LastIndex(id, "/")+1:]
	}

	body, err := d.http.Get(ctx, d.endpoints.SemanticAPI+url.PathEscape(id)+"?fields=title,authors,year,openAccessPdf")
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: Semantic Scholar lookup %s", id)
	}
	p, err := parseSemantic(body, id)
	if err != nil {
		return nil, err
	}
	return d.fetchPaper(ctx, p)
}

func parseSemantic(body []byte, id string) (*Paper, error) {
	var resp semanticResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "fetcher: parse Semantic Scholar response")
	}
	if resp.OpenAccessPDF == nil || resp.OpenAccessPDF.URL == "" {
		return nil, eris.Wrapf(ErrNoOpenAccess, "fetcher: Semantic Scholar %s", id)
	}

	p := &Paper{Title: resp.Title, FirstAuthor: "unknown", PDFURL: resp.OpenAccessPDF.URL}
	if resp.Year > 0 {
		p.Year = strconv.Itoa(resp.Year)
	}
	if len(resp.Authors) > 0 {
		if n := lastName(resp.Authors[0].Name); n != "" {
			p.FirstAuthor = n
		}
	}
	return p, nil
}

func lastName(full string) string {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
