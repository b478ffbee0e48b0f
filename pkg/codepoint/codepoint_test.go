package codepoint

import (
	"math/rand"
	"testing"
	"testing/quick"
)

func TestLen(t *testing.T) {
	cases := map[string]int{
		"":       0,
		"abc":    3,
		"😀":      1,
		"a😀b":    3,
		"héllo":  5,
	}
	for s, want := range cases {
		if got := Len(s); got != want {
			t.Errorf("Len(%q) = %d, want %d", s, got, want)
		}
	}
}

func TestAstralIsTwoUTF16Units(t *testing.T) {
	s := "😀"
	if Len(s) != 1 {
		t.Fatalf("expected 1 codepoint, got %d", Len(s))
	}
	if got := CodepointToUTF16(s, 1); got != 2 {
		t.Fatalf("expected astral char to occupy 2 UTF-16 units, got %d", got)
	}
}

// TestRoundTrip checks that for k on a codepoint boundary,
// codepoint_to_utf16(s, utf16_to_codepoint(s, k)) == k.
func TestRoundTrip(t *testing.T) {
	f := func(seed int64) bool {
		rng := rand.New(rand.NewSource(seed))
		s := randomString(rng)
		if len(s) == 0 {
			return true
		}
		// Pick a codepoint boundary by choosing a random codepoint count,
		// then compute the UTF-16 offset that boundary corresponds to.
		cp := rng.Intn(Len(s) + 1)
		k := CodepointToUTF16(s, cp)
		return CodepointToUTF16(s, UTF16ToCodepoint(s, k)) == k
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Error(err)
	}
}

func randomString(rng *rand.Rand) string {
	runes := []rune("abcXYZ😀🎉€héllo")
	n := rng.Intn(10)
	out := make([]rune, n)
	for i := range out {
		out[i] = runes[rng.Intn(len(runes))]
	}
	return string(out)
}
