// Package analyzer measures recognition accuracy against reference text.
package analyzer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/arbovm/levenshtein"
	"github.com/codycollier/wer"
	"golang.org/x/text/unicode/norm"
)

type textAnalyzer struct {
	opts Options
}

func NewTextAnalyzer(opts Options) TextAnalyzer {
	return &textAnalyzer{opts: opts}
}

// Compare returns character and word error rates of extracted relative to
// expected. Rates are not capped at 1; insertions can push them above it.
// MatchScore is 1-CER clamped to [0, 1].
func (a *textAnalyzer) Compare(expected, extracted string) Accuracy {
	ref := a.normalize(expected)
	hyp := a.normalize(extracted)

	dist := levenshtein.Distance(ref, hyp)
	refLen := utf8.RuneCountInString(ref)

	var cer float64
	switch {
	case refLen > 0:
		cer = float64(dist) / float64(refLen)
	case hyp != "":
		cer = 1
	}

	refWords := strings.Fields(ref)
	hypWords := strings.Fields(hyp)
	var wordRate float64
	switch {
	case len(refWords) > 0 && len(hypWords) == 0:
		wordRate = 1
	case len(refWords) > 0:
		wordRate, _ = wer.WER(refWords, hypWords)
	case len(hypWords) > 0:
		wordRate = 1
	}

	return Accuracy{
		CER:            cer,
		WER:            wordRate,
		MatchScore:     max(0, 1-cer),
		EditDistance:   dist,
		ExactMatch:     ref == hyp,
		ReferenceWords: len(refWords),
	}
}

func (a *textAnalyzer) normalize(s string) string {
	if a.opts.NormalizeUnicode {
		s = norm.NFC.String(s)
	}
	if a.opts.IgnorePunctuation {
		s = strings.Map(func(r rune) rune {
			if unicode.IsPunct(r) {
				return -1
			}
			return r
		}, s)
	}
	if !a.opts.CaseSensitive {
		s = strings.ToLower(s)
	}
	if a.opts.CollapseWhitespace {
		s = strings.Join(strings.Fields(s), " ")
	}
	return s
}
