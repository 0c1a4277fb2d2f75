// Package patterns maintains the two sibling pattern registries used by the
// trace analyzer (per-language signal-detection packs) and the governance
// redaction engine (the builtin credential/PII/financial catalog).
package patterns

import (
	"fmt"
	"regexp"
	"sync"
)

// LanguagePack holds one language's compiled detector regex families.
type LanguagePack struct {
	Code                 string
	Corrections          []*regexp.Regexp
	ShortNegatives       []*regexp.Regexp
	Questions            []*regexp.Regexp
	Dissatisfaction      []*regexp.Regexp
	SatisfactionOverride []*regexp.Regexp
	ResolutionIndicator  []*regexp.Regexp
	CompletionClaims     []*regexp.Regexp
	SystemStateClaims    []*regexp.Regexp
	OpinionExclusions    []*regexp.Regexp

	// noWordBoundary records whether this pack's author asserted that word
	// boundaries are inappropriate for the script (required for CJK).
	noWordBoundary bool
}

// cjkLanguages lists codes whose scripts have no whitespace word boundaries;
// packs for these languages must not use \b in their regexes.
var cjkLanguages = map[string]bool{"zh": true, "ja": true, "ko": true}

// minCounts enforces the load-time minimums from spec.md §4.3.
const (
	minCorrections       = 3
	minCompletionClaims  = 3
	minSystemStateClaims = 2
)

// universalQuestionMark and universalEmoji are merged into every pack's
// view unconditionally, independent of language.
var (
	universalQuestionMark = regexp.MustCompile(`\?\s*$`)
	universalEmoji        = regexp.MustCompile(`[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}\x{1F900}-\x{1F9FF}\x{2600}-\x{27BF}]`)
)

// SignalSet is the cached, merged, read-only view of all loaded language
// packs plus the universal patterns, handed to detectors.
type SignalSet struct {
	Packs     map[string]*LanguagePack
	Universal []*regexp.Regexp
}

// SignalRegistry owns the set of loaded language packs. It is safe for
// concurrent use: reads take the merged-cache fast path, writes (load or
// register) take a write lock and invalidate the cache.
type SignalRegistry struct {
	mu    sync.RWMutex
	packs map[string]*LanguagePack
	cache *SignalSet
}

// NewSignalRegistry constructs an empty registry. Call LoadBuiltins (or
// LoadBuiltinsAsync) to populate it.
func NewSignalRegistry() *SignalRegistry {
	return &SignalRegistry{packs: make(map[string]*LanguagePack)}
}

// LoadSyncSubset synchronously loads the always-available subset (en, de)
// so the pipeline has a usable pattern set before the remaining packs
// finish loading asynchronously.
func (r *SignalRegistry) LoadSyncSubset() error {
	for _, code := range []string{"en", "de"} {
		pack, err := buildBuiltinPack(code)
		if err != nil {
			return err
		}
		if err := r.Register(pack); err != nil {
			return err
		}
	}
	return nil
}

// LoadRemainingAsync loads every other builtin pack in a background
// goroutine, registering each as it completes. The returned channel is
// closed once all packs have been attempted.
func (r *SignalRegistry) LoadRemainingAsync() <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		for _, code := range []string{"fr", "es", "pt", "it", "zh", "ja", "ko", "ru"} {
			pack, err := buildBuiltinPack(code)
			if err != nil {
				done <- fmt.Errorf("build pack %s: %w", code, err)
				continue
			}
			if err := r.Register(pack); err != nil {
				done <- fmt.Errorf("register pack %s: %w", code, err)
			}
		}
	}()
	return done
}

// Register validates and installs (or replaces) a language pack by code
// under a write lock, invalidating the merged-view cache. Caller-supplied
// packs follow the exact same validation as builtins, per spec.md §4.3's
// "runtime registration of user-supplied packs (replacing by language
// code)".
func (r *SignalRegistry) Register(pack *LanguagePack) error {
	if err := validatePack(pack); err != nil {
		return fmt.Errorf("pattern pack %q invalid: %w", pack.Code, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.packs[pack.Code] = pack
	r.cache = nil
	return nil
}

// Merged returns the cached merged view across all loaded packs, rebuilding
// it if a load/register has invalidated it since the last call.
func (r *SignalRegistry) Merged() *SignalSet {
	r.mu.RLock()
	if r.cache != nil {
		defer r.mu.RUnlock()
		return r.cache
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache != nil {
		return r.cache
	}

	snapshot := make(map[string]*LanguagePack, len(r.packs))
	for code, pack := range r.packs {
		snapshot[code] = pack
	}
	r.cache = &SignalSet{
		Packs:     snapshot,
		Universal: []*regexp.Regexp{universalQuestionMark, universalEmoji},
	}
	return r.cache
}

// validatePack enforces the per-pack invariants: minimum pattern counts and
// the CJK no-word-boundary rule.
func validatePack(pack *LanguagePack) error {
	if len(pack.Corrections) < minCorrections {
		return fmt.Errorf("need >=%d correction indicators, got %d", minCorrections, len(pack.Corrections))
	}
	if len(pack.CompletionClaims) < minCompletionClaims {
		return fmt.Errorf("need >=%d completion claims, got %d", minCompletionClaims, len(pack.CompletionClaims))
	}
	if len(pack.SystemStateClaims) < minSystemStateClaims {
		return fmt.Errorf("need >=%d system-state claims, got %d", minSystemStateClaims, len(pack.SystemStateClaims))
	}

	if cjkLanguages[pack.Code] {
		allFamilies := [][]*regexp.Regexp{
			pack.Corrections, pack.ShortNegatives, pack.Questions, pack.Dissatisfaction,
			pack.SatisfactionOverride, pack.ResolutionIndicator, pack.CompletionClaims,
			pack.SystemStateClaims, pack.OpinionExclusions,
		}
		for _, family := range allFamilies {
			for _, re := range family {
				if usesWordBoundary(re.String()) {
					return fmt.Errorf("CJK pack %q must not use word-boundary assertions: %q", pack.Code, re.String())
				}
			}
		}
	}
	return nil
}

func usesWordBoundary(pattern string) bool {
	for i := 0; i+1 < len(pattern); i++ {
		if pattern[i] == '\\' && (pattern[i+1] == 'b' || pattern[i+1] == 'B') {
			return true
		}
	}
	return false
}
