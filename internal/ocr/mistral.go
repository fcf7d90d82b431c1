package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/paper-cli/internal/resilience"
)

const (
	mistralOCREndpoint  = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "mistral-ocr-latest"
)

// MistralOCR sends whole PDFs to the hosted Mistral OCR endpoint. It needs
// no local binaries, which makes it the fallback for scanned papers on
// machines without marker installed.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewMistralOCR creates a MistralOCR extractor. If model is empty, the default is used.
func NewMistralOCR(apiKey, model string) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralOCREndpoint,
		client:   &http.Client{},
	}
}

func (m *MistralOCR) Name() string { return "mistral" }

type mistralOCRRequest struct {
	Model              string             `json:"model"`
	Document           mistralOCRDocument `json:"document"`
	Pages              []int              `json:"pages,omitempty"`
	IncludeImageBase64 bool               `json:"include_image_base64"`
}

type mistralOCRDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type mistralOCRResponse struct {
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// ExtractText uploads the PDF inline and returns the page markdown in page
// order. MaxPages limits the request to the leading pages.
func (m *MistralOCR) ExtractText(ctx context.Context, pdfPath string, opts Options) (string, error) {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: read PDF %s", pdfPath)
	}

	raw, err := m.post(ctx, m.request(data, opts))
	if err != nil {
		return "", err
	}

	var parsed mistralOCRResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", eris.Wrap(err, "ocr: unmarshal mistral response")
	}
	if len(parsed.Pages) == 0 {
		zap.L().Warn("ocr: mistral returned no pages", zap.String("path", pdfPath))
	}
	return joinPages(parsed.Pages), nil
}

func (m *MistralOCR) request(pdf []byte, opts Options) mistralOCRRequest {
	req := mistralOCRRequest{
		Model: m.model,
		Document: mistralOCRDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
		},
	}
	for i := range max(opts.MaxPages, 0) {
		req.Pages = append(req.Pages, i)
	}
	return req
}

// post returns the body of a 200 response. Other statuses become
// resilience.StatusError values so 429 and 5xx are retried as transient.
func (m *MistralOCR) post(ctx context.Context, body mistralOCRRequest) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, eris.Wrap(err, "ocr: marshal mistral request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, &buf)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: mistral API call")
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: read mistral response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("ocr: mistral", resp.StatusCode, string(raw))
	}
	return raw, nil
}

// joinPages orders pages by index and drops blank ones.
func joinPages(pages []mistralOCRPage) string {
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		if md := strings.TrimSpace(p.Markdown); md != "" {
			out = append(out, md)
		}
	}
	return strings.Join(out, "\n\n")
}
