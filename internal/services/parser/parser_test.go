package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/distill/internal/common"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(common.GetLogger())
}

func TestParse_PlainText(t *testing.T) {
	svc := newTestService(t)

	text, err := svc.Parse(context.Background(), []byte("hello world\n\nsecond paragraph"), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world\n\nsecond paragraph", text)
}

func TestParse_NormalizesLineEndings(t *testing.T) {
	svc := newTestService(t)

	text, err := svc.Parse(context.Background(), []byte("one\r\ntwo\rthree"), "crlf.txt")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree", text)
}

func TestParse_RejectsInvalidUTF8(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Parse(context.Background(), []byte{0xff, 0xfe, 0x00}, "bad.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid UTF-8")
}

func TestParse_EmptyUpload(t *testing.T) {
	svc := newTestService(t)

	text, err := svc.Parse(context.Background(), nil, "empty.txt")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestParse_UnsupportedExtension(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Parse(context.Background(), []byte("binary"), "app.exe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file extension")
}

func TestParse_Markdown(t *testing.T) {
	svc := newTestService(t)

	input := "# Title\n\nSome **bold** text with a [link](https://example.com).\n\n- item one\n- item two\n"
	text, err := svc.Parse(context.Background(), []byte(input), "doc.md")
	require.NoError(t, err)

	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "bold")
	assert.Contains(t, text, "item one")
	assert.NotContains(t, text, "**")
	assert.NotContains(t, text, "# ")
}

func TestParse_MarkdownCodeBlock(t *testing.T) {
	svc := newTestService(t)

	input := "Intro paragraph.\n\n```\nfunc main() {}\n```\n\nOutro paragraph.\n"
	text, err := svc.Parse(context.Background(), []byte(input), "code.md")
	require.NoError(t, err)

	assert.Contains(t, text, "func main() {}")
	assert.NotContains(t, text, "```")
}

func TestParse_HTMLStripsBoilerplate(t *testing.T) {
	svc := newTestService(t)

	input := `<html><head><style>body{color:red}</style></head><body>
<nav>Site Navigation</nav>
<p>Main content paragraph.</p>
<script>alert("x")</script>
<footer>Copyright notice</footer>
</body></html>`
	text, err := svc.Parse(context.Background(), []byte(input), "page.html")
	require.NoError(t, err)

	assert.Contains(t, text, "Main content paragraph.")
	assert.NotContains(t, text, "Site Navigation")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "Copyright notice")
	assert.NotContains(t, text, "color:red")
}

func TestParse_ExtensionCaseInsensitive(t *testing.T) {
	svc := newTestService(t)

	text, err := svc.Parse(context.Background(), []byte("upper case extension"), "NOTES.TXT")
	require.NoError(t, err)
	assert.Equal(t, "upper case extension", text)
}

func TestSupportedExtensions(t *testing.T) {
	svc := newTestService(t)

	exts := svc.SupportedExtensions()
	assert.Equal(t, []string{".htm", ".html", ".md", ".pdf", ".txt"}, exts)
}

func TestCollapseBlankLines(t *testing.T) {
	assert.Equal(t, "a\n\nb", collapseBlankLines("a\n\n\n\n\nb\n"))
	assert.Equal(t, "a", collapseBlankLines("  a  \n"))
	assert.Empty(t, collapseBlankLines("\n\n\n"))
}
