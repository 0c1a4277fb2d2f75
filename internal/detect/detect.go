// Package detect implements the stateless per-chain signal detectors: doom
// loop, hallucination, correction, dissatisfaction, and unverified claim.
// Each detector is a pure function of (Chain, SignalSet) and never consults
// other chains.
package detect

import (
	"regexp"

	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/patterns"
)

// Detector is the shared interface every signal detector implements,
// matching the "polymorphic over the capability set" guidance: concrete
// structs implementing one operation rather than a class hierarchy.
type Detector interface {
	Name() string
	Detect(chain domain.Chain, set *patterns.SignalSet) []domain.Signal
}

// All returns the full set of builtin detectors in a stable order, used by
// the pipeline driver to run every detector over every chain.
func All() []Detector {
	return []Detector{
		DoomLoopDetector{},
		HallucinationDetector{},
		CorrectionDetector{},
		DissatisfactionDetector{},
		UnverifiedClaimDetector{},
	}
}

// matchAny reports whether any regex in the family matches text.
func matchAny(family []*regexp.Regexp, text string) bool {
	for _, re := range family {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// familySelector picks one regex family out of a language pack, used by
// matchesAnyPack to stay agnostic of the input's language: the merged
// pattern set has no language-detection step, so a detector checks text
// against every loaded pack's matching family.
type familySelector func(*patterns.LanguagePack) []*regexp.Regexp

func matchesAnyPack(set *patterns.SignalSet, text string, sel familySelector) bool {
	if set == nil {
		return false
	}
	for _, pack := range set.Packs {
		if matchAny(sel(pack), text) {
			return true
		}
	}
	return false
}
