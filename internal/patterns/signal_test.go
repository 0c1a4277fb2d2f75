package patterns

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSyncSubsetRegistersEnglishAndGerman(t *testing.T) {
	reg := NewSignalRegistry()
	require.NoError(t, reg.LoadSyncSubset())

	merged := reg.Merged()
	assert.Contains(t, merged.Packs, "en")
	assert.Contains(t, merged.Packs, "de")
	assert.Len(t, merged.Universal, 2)
}

func TestLoadRemainingAsyncRegistersAllBuiltinLanguages(t *testing.T) {
	reg := NewSignalRegistry()
	require.NoError(t, reg.LoadSyncSubset())

	done := reg.LoadRemainingAsync()
	for err := range done {
		require.NoError(t, err)
	}

	merged := reg.Merged()
	for _, code := range []string{"en", "de", "fr", "es", "pt", "it", "zh", "ja", "ko", "ru"} {
		assert.Contains(t, merged.Packs, code, "expected pack %s to be registered", code)
	}
}

func TestRegisterRejectsPackBelowMinimumCounts(t *testing.T) {
	reg := NewSignalRegistry()
	pack := &LanguagePack{Code: "xx"}
	err := reg.Register(pack)
	assert.Error(t, err)
}

func TestRegisterRejectsCJKPackUsingWordBoundary(t *testing.T) {
	badPack, err := buildBuiltinPack("zh")
	require.NoError(t, err)
	badPack.Corrections = append(badPack.Corrections, regexp.MustCompile(`\bshould not be here\b`))

	reg := NewSignalRegistry()
	err = reg.Register(badPack)
	assert.Error(t, err)
}

func TestMergedCachesUntilNextRegister(t *testing.T) {
	reg := NewSignalRegistry()
	require.NoError(t, reg.LoadSyncSubset())

	first := reg.Merged()
	second := reg.Merged()
	assert.Same(t, first, second)

	fr, err := buildBuiltinPack("fr")
	require.NoError(t, err)
	require.NoError(t, reg.Register(fr))

	third := reg.Merged()
	assert.NotSame(t, first, third)
}

func TestUsesWordBoundaryDetectsEscapedAssertions(t *testing.T) {
	assert.True(t, usesWordBoundary(`\bfoo\b`))
	assert.True(t, usesWordBoundary(`\Bfoo`))
	assert.False(t, usesWordBoundary(`foo bar`))
}
