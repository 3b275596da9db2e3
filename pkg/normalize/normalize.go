// Package normalize canonicalizes free-form text for downstream matching:
// compatibility decomposition, locale-independent case folding, optional
// accent stripping, punctuation/whitespace collapsing.
//
// The rule set is fixed per Config and every call is a pure function of its
// input, so Normalize is total, deterministic and idempotent.
package normalize

import (
	"strings"
	"sync"
	"unicode"

	"github.com/gosimple/unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Config selects the optional rules. The zero value is the default profile.
type Config struct {
	// KeepAccents keeps nonspacing marks after decomposition instead of removing them.
	KeepAccents bool `json:"keep_accents"`
	// Transliterate maps the input to ASCII before any other rule.
	Transliterate bool `json:"transliterate"`
	// Retain lists punctuation/symbol runes that are kept instead of becoming separators.
	Retain string `json:"retain"`
}

// Normalizer applies one Config. Safe for concurrent use.
type Normalizer struct {
	cfg    Config
	retain map[rune]struct{}
	// x/text transformers carry state between calls; one per goroutine at a time.
	chains sync.Pool
}

// New builds a Normalizer for cfg. cfg is copied and never mutated.
func New(cfg Config) *Normalizer {
	n := &Normalizer{cfg: cfg}
	if cfg.Retain != "" {
		n.retain = make(map[rune]struct{}, len(cfg.Retain))
		for _, r := range cfg.Retain {
			n.retain[r] = struct{}{}
		}
		// 比较发生在分解与折叠之后，集合也需同样变换（＃ -> #，… -> .）
		if folded, _, err := transform.String(transform.Chain(norm.NFKD, cases.Fold()), cfg.Retain); err == nil {
			for _, r := range folded {
				n.retain[r] = struct{}{}
			}
		}
	}
	keep := cfg.KeepAccents
	n.chains.New = func() any {
		if keep {
			return transform.Chain(norm.NFKD, cases.Fold())
		}
		return transform.Chain(norm.NFKD, cases.Fold(), runes.Remove(runes.In(unicode.Mn)))
	}
	return n
}

// Config returns the rule selection of n.
func (n *Normalizer) Config() Config { return n.cfg }

var std = New(Config{})

// Text normalizes s with the default profile.
func Text(s string) string { return std.Normalize(s) }

type class uint8

const (
	drop class = iota
	keep
	sep
)

// Normalize returns the canonical form of s.
func (n *Normalizer) Normalize(s string) string {
	if s == "" {
		return ""
	}
	if n.cfg.Transliterate {
		s = unidecode.Unidecode(s)
	}
	t := n.chains.Get().(transform.Transformer)
	folded, _, err := transform.String(t, s)
	n.chains.Put(t)
	if err != nil {
		// only reachable on internal transformer failure; fold without decomposition
		folded = strings.ToLower(s)
	}

	var b strings.Builder
	b.Grow(len(folded))
	pending := false
	for _, r := range folded {
		switch n.classify(r) {
		case keep:
			if pending && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pending = false
			b.WriteRune(stableCase(r))
		case sep:
			pending = true
		}
	}
	return norm.NFC.String(b.String())
}

// stableCase pins Cherokee to the uppercase block. cases.Fold maps it to the
// lowercase block, which folds back again on the next pass.
func stableCase(r rune) rune {
	if (r >= 0x13A0 && r <= 0x13FF) || (r >= 0xAB70 && r <= 0xABBF) {
		return unicode.ToUpper(r)
	}
	return r
}

func (n *Normalizer) classify(r rune) class {
	switch {
	case unicode.IsSpace(r):
		return sep
	case unicode.IsLetter(r), unicode.IsNumber(r), unicode.IsMark(r):
		return keep
	}
	if _, ok := n.retain[r]; ok {
		return keep
	}
	switch {
	case unicode.IsPunct(r), unicode.IsSymbol(r):
		return sep
	default:
		// Cc, Cf, Co, Cs and unassigned code points
		return drop
	}
}
