package response

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MatchKind selects how a phrase is compared with a normalised reply.
type MatchKind string

const (
	MatchContains MatchKind = "contains"
	MatchExact    MatchKind = "exact"
	MatchPrefix   MatchKind = "prefix"
)

// Phrase maps adapter diagnostic text to an outcome.
type Phrase struct {
	Text    string    `yaml:"text"`
	Match   MatchKind `yaml:"match"`
	Outcome Outcome   `yaml:"outcome"`
}

func (p Phrase) matches(upper string) bool {
	text := strings.ToUpper(p.Text)
	switch p.Match {
	case MatchExact:
		return upper == text
	case MatchPrefix:
		return strings.HasPrefix(upper, text)
	default:
		return strings.Contains(upper, text)
	}
}

// PhraseTable is the ordered set of phrases plus informational lines that
// are dropped before classification. Order matters: the first match wins.
type PhraseTable struct {
	phrases []Phrase
	ignore  []string
}

type phraseFile struct {
	Phrases []Phrase `yaml:"phrases"`
	Ignore  []string `yaml:"ignore"`
}

var ErrEmptyPhrase = errors.New("phrase text must not be empty")

func NewPhraseTable(phrases []Phrase, ignore []string) (*PhraseTable, error) {
	t := &PhraseTable{
		phrases: make([]Phrase, 0, len(phrases)),
		ignore:  make([]string, 0, len(ignore)),
	}

	for _, p := range phrases {
		if strings.TrimSpace(p.Text) == "" {
			return nil, ErrEmptyPhrase
		}
		switch p.Outcome {
		case HexData, Rubbish, SerialTimeout:
			return nil, fmt.Errorf("phrase %q: outcome %s is assigned by the classifier itself", p.Text, p.Outcome)
		}
		switch p.Match {
		case "":
			p.Match = MatchContains
		case MatchContains, MatchExact, MatchPrefix:
		default:
			return nil, fmt.Errorf("phrase %q: unknown match kind %q", p.Text, p.Match)
		}
		t.phrases = append(t.phrases, p)
	}

	for _, line := range ignore {
		if line = strings.ToUpper(strings.TrimSpace(line)); line != "" {
			t.ignore = append(t.ignore, line)
		}
	}

	return t, nil
}

// DefaultPhrases is the ELM327 firmware message set. "<DATA ERROR" must
// precede "DATA ERROR" and "BUS INIT" must precede "BUS ERROR".
func DefaultPhrases() []Phrase {
	return []Phrase{
		{Text: "<DATA ERROR", Match: MatchContains, Outcome: DataError2},
		{Text: "DATA ERROR", Match: MatchContains, Outcome: DataError},
		{Text: "BUS INIT", Match: MatchContains, Outcome: BusInitError},
		{Text: "BUS BUSY", Match: MatchContains, Outcome: BusBusy},
		{Text: "BUS ERROR", Match: MatchContains, Outcome: BusError},
		{Text: "FB ERROR", Match: MatchContains, Outcome: BusError},
		{Text: "CAN ERROR", Match: MatchContains, Outcome: CanError},
		{Text: "UNABLE TO CONNECT", Match: MatchContains, Outcome: UnableToConnect},
		{Text: "NO DATA", Match: MatchContains, Outcome: NoData},
		{Text: "BUFFER FULL", Match: MatchContains, Outcome: BufferFull},
		{Text: "STOPPED", Match: MatchContains, Outcome: BusStopped},
		{Text: "?", Match: MatchExact, Outcome: UnknownCommand},
	}
}

// DefaultIgnore lists progress lines an ELM327 prints ahead of real data.
func DefaultIgnore() []string {
	return []string{
		"SEARCHING",
		"BUS INIT: ...OK",
		"BUS INIT: OK",
	}
}

func DefaultPhraseTable() *PhraseTable {
	t, err := NewPhraseTable(DefaultPhrases(), DefaultIgnore())
	if err != nil {
		panic(err)
	}
	return t
}

// LoadPhraseTable reads a YAML file of the form
//
//	phrases:
//	  - {text: "NO DATA", match: contains, outcome: NO_DATA}
//	ignore: ["SEARCHING"]
func LoadPhraseTable(path string) (*PhraseTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read phrase table: %w", err)
	}

	var f phraseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse phrase table: %w", err)
	}
	if len(f.Phrases) == 0 {
		return nil, fmt.Errorf("phrase table %s has no phrases", path)
	}

	return NewPhraseTable(f.Phrases, f.Ignore)
}

func (t *PhraseTable) Phrases() []Phrase {
	out := make([]Phrase, len(t.phrases))
	copy(out, t.phrases)
	return out
}

func (t *PhraseTable) ignored(upperLine string) bool {
	for _, prefix := range t.ignore {
		if strings.HasPrefix(upperLine, prefix) {
			return true
		}
	}
	return false
}

func (t *PhraseTable) match(upper string) (Outcome, bool) {
	for _, p := range t.phrases {
		if p.matches(upper) {
			return p.Outcome, true
		}
	}
	return 0, false
}
