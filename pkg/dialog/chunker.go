package dialog

import "strings"

// SynthesisUnit is a contiguous text span emitted by the response chunker
// (C6) for synthesis as a single TTS request (spec.md §4.6).
type SynthesisUnit struct {
	Index      int
	Text       string
	Generation uint64
}

// terminalPunct are the sentence-terminal runes the chunker splits on.
const terminalPunct = ".?!"

// ResponseChunker accumulates streamed LLM text fragments and emits
// sentence-bounded synthesis units, forcing a unit at softCap characters
// when no terminal punctuation has appeared (to bound synthesis latency).
// Not safe for concurrent use — owned exclusively by the turn controller
// goroutine driving a single turn's LLM stream.
type ResponseChunker struct {
	softCap    int
	generation uint64
	buf        strings.Builder
	nextIndex  int
}

// NewResponseChunker creates a chunker for one turn at generation gen.
func NewResponseChunker(softCap int, gen uint64) *ResponseChunker {
	if softCap <= 0 {
		softCap = 240
	}
	return &ResponseChunker{softCap: softCap, generation: gen}
}

// Feed appends an LLM text fragment and returns zero or more synthesis
// units completed by this fragment, in increasing index order. Whitespace
// and punctuation are preserved verbatim in unit text.
func (c *ResponseChunker) Feed(fragment string) []SynthesisUnit {
	c.buf.WriteString(fragment)
	return c.drain(false)
}

// Flush emits any non-empty buffered tail as a final unit (called at LLM
// stream end, per spec.md §4.6).
func (c *ResponseChunker) Flush() []SynthesisUnit {
	return c.drain(true)
}

// drain scans the accumulated buffer for complete units. When final is
// true, any remaining tail is emitted unconditionally.
func (c *ResponseChunker) drain(final bool) []SynthesisUnit {
	var units []SynthesisUnit
	text := c.buf.String()
	start := 0

	for {
		cut := c.nextBoundary(text, start, final)
		if cut < 0 {
			break
		}
		unitText := text[start:cut]
		if unitText != "" {
			units = append(units, c.emit(unitText))
		}
		start = cut
	}

	remaining := text[start:]
	if final && remaining != "" {
		units = append(units, c.emit(remaining))
		remaining = ""
	}

	c.buf.Reset()
	c.buf.WriteString(remaining)
	return units
}

// nextBoundary finds the end offset (exclusive) of the next complete unit
// starting at start, or -1 if none is ready yet. A unit completes at
// terminal punctuation followed by whitespace (or end-of-stream when
// final), or when it would exceed softCap without terminal punctuation.
func (c *ResponseChunker) nextBoundary(text string, start int, final bool) int {
	if start >= len(text) {
		return -1
	}

	for i := start; i < len(text); i++ {
		if strings.ContainsRune(terminalPunct, rune(text[i])) {
			j := i + 1
			// consume any run of terminal punctuation ("?!", "...")
			for j < len(text) && strings.ContainsRune(terminalPunct, rune(text[j])) {
				j++
			}
			if j < len(text) && isSpace(text[j]) {
				return j + 1
			}
			if j >= len(text) && final {
				return j
			}
		}
		if i-start+1 >= c.softCap {
			return i + 1
		}
	}
	return -1
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func (c *ResponseChunker) emit(text string) SynthesisUnit {
	u := SynthesisUnit{Index: c.nextIndex, Text: text, Generation: c.generation}
	c.nextIndex++
	return u
}
