// Package gemini wraps the Gemini Files and GenerateContent APIs.
package gemini

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// FileState is the processing state of an uploaded file.
type FileState string

const (
	StateUnspecified FileState = "unspecified"
	StateProcessing  FileState = "processing"
	StateActive      FileState = "active"
	StateFailed      FileState = "failed"
)

// File describes a file stored by the Files API.
type File struct {
	Name        string
	DisplayName string
	URI         string
	MIMEType    string
	SizeBytes   int64
	State       FileState
}

// GenerateRequest is a single-turn generation call. Files are attached
// before the prompt.
type GenerateRequest struct {
	Model       string
	Prompt      string
	Files       []File
	JSON        bool
	Temperature float32
}

// Client defines the Gemini operations used by paper-cli.
type Client interface {
	UploadFile(ctx context.Context, path, displayName string) (*File, error)
	GetFile(ctx context.Context, name string) (*File, error)
	ListFiles(ctx context.Context) ([]File, error)
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Close() error
}

type genaiClient struct {
	client *genai.Client
}

// NewClient creates a Gemini client authenticated with apiKey.
func NewClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (Client, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: API key is required")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	c, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &genaiClient{client: c}, nil
}

func (c *genaiClient) UploadFile(ctx context.Context, path, displayName string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "gemini: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	uploaded, err := c.client.UploadFile(ctx, "", f, &genai.UploadFileOptions{
		DisplayName: displayName,
		MIMEType:    mimeType(path),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "gemini: upload %s", path)
	}
	return fromGenaiFile(uploaded), nil
}

func (c *genaiClient) GetFile(ctx context.Context, name string) (*File, error) {
	f, err := c.client.GetFile(ctx, name)
	if err != nil {
		return nil, eris.Wrapf(err, "gemini: get file %s", name)
	}
	return fromGenaiFile(f), nil
}

func (c *genaiClient) ListFiles(ctx context.Context) ([]File, error) {
	var out []File
	it := c.client.ListFiles(ctx)
	for {
		f, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "gemini: list files")
		}
		out = append(out, *fromGenaiFile(f))
	}
	return out, nil
}

func (c *genaiClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	model := c.client.GenerativeModel(req.Model)
	model.SetTemperature(req.Temperature)
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	parts := make([]genai.Part, 0, len(req.Files)+1)
	for _, f := range req.Files {
		parts = append(parts, genai.FileData{MIMEType: f.MIMEType, URI: f.URI})
	}
	parts = append(parts, genai.Text(req.Prompt))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", eris.Wrap(err, "gemini: generate content")
	}
	return extractText(resp)
}

func (c *genaiClient) Close() error {
	return c.client.Close()
}

// StatusCode extracts the HTTP status of a Google API error.
func StatusCode(err error) (int, bool) {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code, true
	}
	return 0, false
}

func fromGenaiFile(f *genai.File) *File {
	return &File{
		Name:        f.Name,
		DisplayName: f.DisplayName,
		URI:         f.URI,
		MIMEType:    f.MIMEType,
		SizeBytes:   f.SizeBytes,
		State:       fromGenaiState(f.State),
	}
}

func fromGenaiState(s genai.FileState) FileState {
	switch s {
	case genai.FileStateProcessing:
		return StateProcessing
	case genai.FileStateActive:
		return StateActive
	case genai.FileStateFailed:
		return StateFailed
	default:
		return StateUnspecified
	}
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", eris.New("gemini: no candidates in response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", eris.New("gemini: no content in response")
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", eris.New("gemini: no text parts in response")
	}
	return sb.String(), nil
}

func mimeType(path string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(path), ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(strings.ToLower(path), ".md"):
		return "text/markdown"
	default:
		return "text/plain"
	}
}
