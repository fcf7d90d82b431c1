package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/paper-cli/internal/index"
	indexmocks "github.com/sells-group/paper-cli/internal/index/mocks"
	"github.com/sells-group/paper-cli/internal/llm"
	llmmocks "github.com/sells-group/paper-cli/internal/llm/mocks"
	"github.com/sells-group/paper-cli/internal/model"
	"github.com/sells-group/paper-cli/internal/ocr"
	"github.com/sells-group/paper-cli/internal/resilience"
)

type fakeExtractor struct {
	text  string
	err   error
	block bool
	calls int
}

func (f *fakeExtractor) Name() string { return "fake" }

func (f *fakeExtractor) ExtractText(ctx context.Context, _ string, _ ocr.Options) (string, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return "", eris.Wrap(ctx.Err(), "ocr: fake interrupted")
	}
	return f.text, f.err
}

func writePDF(t *testing.T, name string) model.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644))
	return model.NewDocument(path, time.Now())
}

func contentReader(text string, err error) Input {
	return Input{ReadContent: func(context.Context, model.Stage) ([]byte, error) {
		return []byte(text), err
	}}
}

func TestConvert_Success(t *testing.T) {
	doc := writePDF(t, "Smith 2020.pdf")
	ex := &fakeExtractor{text: "Title\r\nBody  \x00text\t\r\n\r\n"}
	c := &Convert{Extractor: ex, Timeout: time.Second}

	res := c.Run(context.Background(), doc, Input{})
	require.Equal(t, model.ArtifactDone, res.Status, "err: %v", res.Err)
	assert.Equal(t, "Title\nBody  text\n", string(res.Content))
	assert.Equal(t, "fake", res.Metadata["extractor"])
	assert.Empty(t, c.Depends())
}

func TestConvert_MissingSourceIsPermanent(t *testing.T) {
	doc := model.NewDocument(filepath.Join(t.TempDir(), "gone.pdf"), time.Now())
	ex := &fakeExtractor{text: "x"}

	res := (&Convert{Extractor: ex}).Run(context.Background(), doc, Input{})
	assert.Equal(t, model.ArtifactFailed, res.Status)
	assert.Equal(t, model.FailurePermanent, res.FailureKind)
	assert.Zero(t, ex.calls)
}

func TestConvert_TimeoutIsTransient(t *testing.T) {
	doc := writePDF(t, "slow.pdf")
	c := &Convert{Extractor: &fakeExtractor{block: true}, Timeout: 20 * time.Millisecond}

	res := c.Run(context.Background(), doc, Input{})
	assert.Equal(t, model.ArtifactFailed, res.Status)
	assert.Equal(t, model.FailureTransient, res.FailureKind)
	assert.Equal(t, "Timeout", res.Err.Error())
}

func TestConvert_ExitStatusIsPermanent(t *testing.T) {
	doc := writePDF(t, "corrupt.pdf")
	ex := &fakeExtractor{err: eris.Wrap(ocr.ErrExitStatus, "ocr: marker failed")}

	res := (&Convert{Extractor: ex}).Run(context.Background(), doc, Input{})
	assert.Equal(t, model.FailurePermanent, res.FailureKind)
}

func TestConvert_NetworkErrorIsTransient(t *testing.T) {
	doc := writePDF(t, "remote.pdf")
	ex := &fakeExtractor{err: resilience.NewTransientError(errors.New("ocr: mistral: API returned 503"), 503)}

	res := (&Convert{Extractor: ex}).Run(context.Background(), doc, Input{})
	assert.Equal(t, model.FailureTransient, res.FailureKind)
}

func TestConvert_EmptyTextIsPermanent(t *testing.T) {
	doc := writePDF(t, "blank.pdf")

	res := (&Convert{Extractor: &fakeExtractor{text: " \n\t\n"}}).Run(context.Background(), doc, Input{})
	assert.Equal(t, model.ArtifactFailed, res.Status)
	assert.Equal(t, model.FailurePermanent, res.FailureKind)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "", NormalizeText("\n \n"))
	assert.Equal(t, "a\nb\n", NormalizeText("a\rb"))
}

func TestTruncate(t *testing.T) {
	out, cut := Truncate("héllo world", 5)
	assert.True(t, cut)
	assert.Equal(t, "héllo"+TruncationMarker, out)

	out, cut = Truncate("short", 5)
	assert.False(t, cut)
	assert.Equal(t, "short", out)

	_, cut = Truncate("anything", 0)
	assert.False(t, cut)
}

const wellFormedReply = `1. **Main Contribution**: A new attention scheme.
2. **Method**: Sparse kernels.
More method detail.
3. **Results**: 2x faster.
4. **Relevance**: Long-context models.
5. **Citation**: smith2020sparse`

func newSummarize(c llm.Client) *Summarize {
	return &Summarize{
		LLM:           c,
		Model:         "claude-sonnet-4-5-20250929",
		MaxTokens:     1500,
		MaxInputChars: 1000,
		Timeout:       time.Second,
		Now:           func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestSummarize_Shape(t *testing.T) {
	doc := model.Document{ID: "smith-2020", SourcePath: "/papers/Smith 2020.pdf"}
	c := llmmocks.NewMockClient(t)
	c.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "PAPER CONTENT:") && strings.Contains(p, "converted body")
	}), int64(1500)).Return(wellFormedReply, nil)

	res := newSummarize(c).Run(context.Background(), doc, contentReader("converted body", nil))
	require.Equal(t, model.ArtifactDone, res.Status, "err: %v", res.Err)
	assert.Equal(t, "false", res.Metadata["truncated"])

	s, err := ParseSummary(res.Content)
	require.NoError(t, err)
	assert.Equal(t, "smith-2020", s.Header.Document)
	assert.Equal(t, "claude-sonnet-4-5-20250929", s.Header.Model)
	assert.False(t, s.Header.Truncated)
	for _, name := range SummarySections {
		assert.NotEmpty(t, s.Section(name), name)
	}
	assert.Equal(t, "Sparse kernels.\nMore method detail.", s.Section("Method"))
	assert.Equal(t, "smith2020sparse", s.Section("Citation"))
	assert.Contains(t, string(res.Content), "# Summary: smith-2020")
}

func TestSummarize_TruncatedInputStillWellShaped(t *testing.T) {
	doc := model.Document{ID: "huge", SourcePath: "/papers/huge.pdf"}
	body := strings.Repeat("x", 10_000)

	var sent string
	c := llmmocks.NewMockClient(t)
	c.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.String(1) }).
		Return("**Main Contribution**: only this", nil)

	res := newSummarize(c).Run(context.Background(), doc, contentReader(body, nil))
	require.Equal(t, model.ArtifactDone, res.Status)
	assert.Contains(t, sent, "[TRUNCATED]")
	assert.Less(t, len(sent), len(DefaultPrompt)+1000+len(TruncationMarker)+1)

	s, err := ParseSummary(res.Content)
	require.NoError(t, err)
	assert.True(t, s.Header.Truncated)
	assert.Equal(t, 1000, s.Header.InputChars-len([]rune(TruncationMarker)))
	for _, name := range SummarySections {
		assert.NotEmpty(t, s.Section(name), name)
	}
	assert.Equal(t, NotReported, s.Section("Results"))
}

func TestSummarize_UnstructuredReplyKept(t *testing.T) {
	c := llmmocks.NewMockClient(t)
	c.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("Just prose about the paper.", nil)

	res := newSummarize(c).Run(context.Background(), model.Document{ID: "p"}, contentReader("text", nil))
	require.Equal(t, model.ArtifactDone, res.Status)
	assert.Equal(t, "false", res.Metadata["structured"])

	s, err := ParseSummary(res.Content)
	require.NoError(t, err)
	assert.Equal(t, "Just prose about the paper.", s.Section("Main Contribution"))
	assert.Equal(t, NotReported, s.Section("Citation"))
}

func TestSummarize_MissingKeyIsSkipped(t *testing.T) {
	res := newSummarize(llm.New("", llm.Config{})).Run(context.Background(), model.Document{ID: "p"}, contentReader("text", nil))
	assert.Equal(t, model.ArtifactSkipped, res.Status)
	assert.Equal(t, model.FailureConfiguration, res.FailureKind)
}

func TestSummarize_RemoteErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind model.FailureKind
	}{
		{"rate limited", resilience.NewTransientError(errors.New("llm: anthropic returned 429"), 429), model.FailureTransient},
		{"bad request", errors.New("llm: anthropic returned 400"), model.FailurePermanent},
		{"empty reply", llm.ErrEmptyResponse, model.FailureParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := llmmocks.NewMockClient(t)
			c.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", tt.err)

			res := newSummarize(c).Run(context.Background(), model.Document{ID: "p"}, contentReader("text", nil))
			assert.Equal(t, model.ArtifactFailed, res.Status)
			assert.Equal(t, tt.kind, res.FailureKind)
		})
	}
}

func TestSummarize_UnreadableInputIsPermanent(t *testing.T) {
	c := llmmocks.NewMockClient(t)
	res := newSummarize(c).Run(context.Background(), model.Document{ID: "p"}, contentReader("", errors.New("disk gone")))
	assert.Equal(t, model.FailurePermanent, res.FailureKind)
	c.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestIndex_Success(t *testing.T) {
	doc := writePDF(t, "a.pdf")
	c := new(indexmocks.MockClient)
	c.On("Upload", mock.Anything, doc.SourcePath, doc.ID).Return(index.Handle{Name: "files/1", URI: "https://x/1"}, nil)

	x := &Index{Client: c, Timeout: time.Second}
	res := x.Run(context.Background(), doc, Input{})
	require.Equal(t, model.ArtifactDone, res.Status)
	assert.Equal(t, "files/1", res.Ref)
	assert.Equal(t, "https://x/1", res.Metadata["uri"])
	assert.Nil(t, res.Content)
	assert.Equal(t, []model.Stage{model.StageConvert}, x.Depends())
}

func TestIndex_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status model.ArtifactStatus
		kind   model.FailureKind
	}{
		{"missing key", index.ErrMissingKey, model.ArtifactSkipped, model.FailureConfiguration},
		{"rejected", eris.Wrap(index.ErrUploadFailed, "index: a"), model.ArtifactFailed, model.FailurePermanent},
		{"unavailable", resilience.NewTransientError(errors.New("503"), 503), model.ArtifactFailed, model.FailureTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := writePDF(t, "a.pdf")
			c := new(indexmocks.MockClient)
			c.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return(index.Handle{}, tt.err)

			res := (&Index{Client: c}).Run(context.Background(), doc, Input{})
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.kind, res.FailureKind)
		})
	}
}

func TestIndex_MissingSource(t *testing.T) {
	c := new(indexmocks.MockClient)
	res := (&Index{Client: c}).Run(context.Background(), model.Document{ID: "x", SourcePath: "/nope/x.pdf"}, Input{})
	assert.Equal(t, model.FailurePermanent, res.FailureKind)
	c.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}
