package typeset

import (
	"unicode"

	"golang.org/x/image/math/fixed"
)

// Line is one wrapped line of a shaped run. Glyphs aliases the run's
// glyph slice.
type Line struct {
	Glyphs []GlyphPlan
	Width  fixed.Int26_6
}

// BreakLines wraps a shaped run into lines no wider than maxWidth
// using greedy word breaking. Newlines force a break; a word wider
// than maxWidth occupies its own overlong line rather than being
// split. maxWidth <= 0 disables wrapping.
//
// The run's glyphs are consumed in order; every glyph lands on exactly
// one line.
func BreakLines(run *Run, maxWidth fixed.Int26_6) []Line {
	glyphs := run.Glyphs
	if len(glyphs) == 0 {
		return nil
	}
	if maxWidth <= 0 {
		return []Line{{Glyphs: glyphs, Width: run.Advance()}}
	}

	var lines []Line
	lineStart := 0
	var lineWidth fixed.Int26_6

	flush := func(end int) {
		lines = append(lines, Line{Glyphs: glyphs[lineStart:end], Width: lineWidth})
		lineStart = end
		lineWidth = 0
	}

	i := 0
	for i < len(glyphs) {
		r := clusterRune(run, i)
		if r == '\n' {
			// The newline glyph closes the current line and is not
			// carried onto the next.
			flush(i + 1)
			i++
			continue
		}
		if unicode.IsSpace(r) {
			lineWidth += glyphs[i].XAdvance
			i++
			continue
		}

		// Measure the whole word before committing it to the line.
		end := i
		var wordWidth fixed.Int26_6
		for end < len(glyphs) {
			wr := clusterRune(run, end)
			if unicode.IsSpace(wr) {
				break
			}
			wordWidth += glyphs[end].XAdvance
			end++
		}

		if lineWidth > 0 && lineWidth+wordWidth > maxWidth {
			flush(i)
		}
		lineWidth += wordWidth
		i = end
	}
	if lineStart < len(glyphs) {
		flush(len(glyphs))
	}
	return lines
}

// clusterRune returns the rune behind glyph i, or the replacement
// character when the cluster index falls outside the run's text.
func clusterRune(run *Run, i int) rune {
	c := run.Glyphs[i].Cluster
	if c < 0 || c >= len(run.Text) {
		return '�'
	}
	return run.Text[c]
}
