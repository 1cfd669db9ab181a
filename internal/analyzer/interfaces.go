package analyzer

// TextAnalyzer scores recognized text against an expected reference.
type TextAnalyzer interface {
	Compare(expected, extracted string) Accuracy
}
