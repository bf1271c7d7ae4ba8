package response

import (
	"strings"
)

const Prompt = '>'

// Classifier maps a raw adapter reply to an Outcome. It holds no mutable
// state, so identical input always yields the same outcome.
type Classifier struct {
	table *PhraseTable
}

func NewClassifier(table *PhraseTable) *Classifier {
	if table == nil {
		table = DefaultPhraseTable()
	}
	return &Classifier{table: table}
}

// Lines splits a reply on CR/LF, removes prompt characters, blank lines and
// the informational lines of the phrase table.
func (c *Classifier) Lines(raw string) []string {
	raw = strings.Map(func(r rune) rune {
		switch r {
		case Prompt, 0:
			return -1
		case '\r':
			return '\n'
		}
		return r
	}, raw)

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || c.table.ignored(strings.ToUpper(line)) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func (c *Classifier) Classify(raw string) Outcome {
	lines := c.Lines(raw)
	if len(lines) == 0 {
		return SerialTimeout
	}

	upper := strings.ToUpper(strings.Join(lines, "\n"))
	if outcome, ok := c.table.match(upper); ok {
		return outcome
	}

	if isHexPayload(lines) {
		return HexData
	}
	return Rubbish
}

// isHexPayload needs at least the two response header bytes.
func isHexPayload(lines []string) bool {
	digits := 0
	for _, line := range lines {
		for _, tok := range strings.Fields(line) {
			if len(tok)%2 != 0 || !isHex(tok) {
				return false
			}
			digits += len(tok)
		}
	}
	return digits >= 4
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
