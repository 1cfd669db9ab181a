package analyzer

// Options controls how texts are normalized before comparison.
type Options struct {
	// NormalizeUnicode applies NFC so precomposed and combining Devanagari
	// forms (e.g. U+0958 and U+0915 U+093C) compare equal.
	NormalizeUnicode bool
	// CollapseWhitespace trims and folds runs of whitespace to one space.
	CollapseWhitespace bool
	// IgnorePunctuation drops punctuation, including the danda (U+0964, U+0965).
	IgnorePunctuation bool
	// CaseSensitive matters only for Latin text mixed into the input.
	CaseSensitive bool
}

func DefaultOptions() Options {
	return Options{
		NormalizeUnicode:   true,
		CollapseWhitespace: true,
		CaseSensitive:      true,
	}
}

// StrictOptions compares texts exactly as given.
func StrictOptions() Options {
	return Options{CaseSensitive: true}
}

// LenientOptions ignores punctuation and Latin case on top of the defaults.
func LenientOptions() Options {
	opts := DefaultOptions()
	opts.IgnorePunctuation = true
	opts.CaseSensitive = false
	return opts
}
