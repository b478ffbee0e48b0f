// Package codepoint bridges between the host editor's UTF-16 offsets and
// the Unicode-codepoint offsets used on the wire and throughout pkg/ot.
//
// Astral-plane characters (outside the Basic Multilingual Plane) count as
// one codepoint but two UTF-16 code units; everything else counts as one of
// each. These three functions are the only place that distinction matters —
// every index crossing the editor/protocol boundary passes through here.
package codepoint

import "unicode/utf16"

// Len returns the number of Unicode scalar values (codepoints) in s.
func Len(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

// UTF16ToCodepoint converts a UTF-16 code-unit offset into s to the
// corresponding codepoint offset.
func UTF16ToCodepoint(s string, utf16Offset int) int {
	units, cps := 0, 0
	for _, r := range s {
		if units >= utf16Offset {
			break
		}
		units += utf16.RuneLen(r)
		cps++
	}
	return cps
}

// CodepointToUTF16 converts a codepoint offset into s to the corresponding
// UTF-16 code-unit offset.
func CodepointToUTF16(s string, codepointOffset int) int {
	units, cps := 0, 0
	for _, r := range s {
		if cps >= codepointOffset {
			break
		}
		units += utf16.RuneLen(r)
		cps++
	}
	return units
}
