package render

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"paragraph with strong", "<p>Hello <strong>world</strong></p>", "Hello **world**"},
		{"heading level 1", "<h1>Intro</h1>", "- Intro"},
		{"heading level 3", "<h3>Tasks</h3>", "--- Tasks"},
		{"div with attributes", `<div class="no-overflow">Submit PDF</div>`, "Submit PDF"},
		{"crlf normalised", "<p>a</p>\r\n<p>b</p>", "a\nb"},
		{"unknown tags pass through", "<em>keep</em> <br>", "<em>keep</em> <br>"},
		{"plain text", "nothing to do", "nothing to do"},
		{"empty", "", ""},
		{"nested div and paragraph", `<div><p>Read <strong>ch. 2</strong></p></div>`, "Read **ch. 2**"},
		{"each line handled separately", "<h2>A</h2>\n<h4>B</h4>", "-- A\n---- B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTMLToText(tt.in))
		})
	}
}

func TestTelegramHTML(t *testing.T) {
	assert.Equal(t, "a &lt; b <b>bold</b>", TelegramHTML("a < b **bold**"))
	assert.Equal(t, "no markers", TelegramHTML("no markers"))
}

func TestProgressBar_RunMode(t *testing.T) {
	assert.Equal(t, strings.Repeat(EmptyCell, 10), ProgressBar(0, 100, 10, false))
	assert.Equal(t, strings.Repeat(FilledCell, 10), ProgressBar(100, 100, 10, false))
	assert.Equal(t, strings.Repeat(FilledCell, 5)+strings.Repeat(EmptyCell, 5), ProgressBar(50, 100, 10, false))
	assert.Equal(t, strings.Repeat(FilledCell, 10), ProgressBar(150, 100, 10, false))
	assert.Equal(t, strings.Repeat(EmptyCell, 10), ProgressBar(-5, 100, 10, false))
}

func TestProgressBar_PointMode(t *testing.T) {
	bar := ProgressBar(0, 100, 10, true)
	assert.Equal(t, 1, strings.Count(bar, FilledCell))
	assert.Equal(t, FilledCell+strings.Repeat(EmptyCell, 9), bar)

	assert.Equal(t, strings.Repeat(EmptyCell, 9)+FilledCell, ProgressBar(100, 100, 10, true))
	assert.Equal(t, strings.Repeat(EmptyCell, 4)+FilledCell+strings.Repeat(EmptyCell, 5), ProgressBar(50, 100, 10, true))
}

func TestProgressBar_Degenerate(t *testing.T) {
	assert.Equal(t, "", ProgressBar(10, 100, 0, false))
	assert.Equal(t, strings.Repeat(EmptyCell, 4), ProgressBar(10, 0, 4, false))

	for _, point := range []bool{true, false} {
		assert.Equal(t, 8, utf8.RuneCountInString(ProgressBar(33, 100, 8, point)))
	}
}
