package ot

import (
	"math/rand"
	"strings"
	"testing"
)

func mustCompose(t *testing.T, a, b *OperationSeq) *OperationSeq {
	t.Helper()
	r, err := a.Compose(b)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	return r
}

func mustApply(t *testing.T, op *OperationSeq, s string) string {
	t.Helper()
	r, err := op.Apply(s)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	return r
}

// randomOp builds a random operation with the given base length.
func randomOp(rng *rand.Rand, baseLen int) *OperationSeq {
	op := NewOperationSeq()
	remaining := baseLen
	for remaining > 0 {
		switch rng.Intn(3) {
		case 0:
			n := 1 + rng.Intn(remaining)
			op.Retain(uint64(n))
			remaining -= n
		case 1:
			n := 1 + rng.Intn(remaining)
			op.Delete(uint64(n))
			remaining -= n
		case 2:
			op.Insert(randomString(rng, 1+rng.Intn(3)))
		}
	}
	if rng.Intn(2) == 0 {
		op.Insert(randomString(rng, 1+rng.Intn(3)))
	}
	return op
}

func randomString(rng *rand.Rand, n int) string {
	letters := []rune("abcXYZ😀€")
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteRune(letters[rng.Intn(len(letters))])
	}
	return sb.String()
}

// TestComposeAssociativity checks that Compose is associative:
// (a.b).c == a.(b.c).
func TestComposeAssociativity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		base := []rune(randomString(rng, 5+rng.Intn(10)))
		s := string(base)

		a := randomOp(rng, len(base))
		mid, err := a.Apply(s)
		if err != nil {
			t.Fatalf("apply a: %v", err)
		}
		b := randomOp(rng, len([]rune(mid)))
		end, err := b.Apply(mid)
		if err != nil {
			t.Fatalf("apply b: %v", err)
		}
		c := randomOp(rng, len([]rune(end)))

		left := mustCompose(t, mustCompose(t, a, b), c)
		right := mustCompose(t, a, mustCompose(t, b, c))

		lhs := mustApply(t, left, s)
		rhs := mustApply(t, right, s)
		if lhs != rhs {
			t.Fatalf("associativity violated: %q != %q", lhs, rhs)
		}
	}
}

// TestTransformConvergence checks TP1 convergence: with (a', b') =
// a.Transform(b), applying a then b' gives the same result as applying
// b then a'.
func TestTransformConvergence(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		base := []rune(randomString(rng, 5+rng.Intn(10)))
		s := string(base)

		a := randomOp(rng, len(base))
		b := randomOp(rng, len(base))

		aPrime, bPrime, err := a.Transform(b)
		if err != nil {
			t.Fatalf("transform: %v", err)
		}

		left := mustApply(t, mustCompose(t, a, bPrime), s)
		right := mustApply(t, mustCompose(t, b, aPrime), s)
		if left != right {
			t.Fatalf("TP1 violated for base %q: %q != %q", s, left, right)
		}
	}
}

// TestInsertTieBreak checks the deterministic tie-break when two
// concurrent inserts land at the same position.
func TestInsertTieBreak(t *testing.T) {
	a := NewOperationSeq()
	a.Insert("X")
	b := NewOperationSeq()
	b.Insert("Y")

	aPrime, bPrime, err := a.Transform(b)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	left := mustApply(t, mustCompose(t, a, bPrime), "")
	right := mustApply(t, mustCompose(t, b, aPrime), "")
	if left != "XY" || right != "XY" {
		t.Fatalf("expected convergence on %q, got left=%q right=%q", "XY", left, right)
	}
}

// TestTransformIndexMonotonic checks that TransformIndex never maps a
// larger input index to a smaller output index.
func TestTransformIndexMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		op := randomOp(rng, 5+rng.Intn(20))
		lo := rng.Intn(op.BaseLen() + 1)
		hi := lo + rng.Intn(op.BaseLen()+1-lo)
		if op.TransformIndex(uint32(lo)) > op.TransformIndex(uint32(hi)) {
			t.Fatalf("monotonicity violated: i=%d -> %d, j=%d -> %d", lo, op.TransformIndex(uint32(lo)), hi, op.TransformIndex(uint32(hi)))
		}
	}
}

// TestTransformIndexDeleteClamping checks that an index inside a
// deleted range clamps to the deletion's start.
func TestTransformIndexDeleteClamping(t *testing.T) {
	op := NewOperationSeq()
	op.Retain(2)
	op.Delete(3)
	if got := op.TransformIndex(3); got != 2 {
		t.Fatalf("expected clamp to 2, got %d", got)
	}
}

func TestIsNoop(t *testing.T) {
	op := NewOperationSeq()
	if !op.IsNoop() {
		t.Fatal("empty op should be noop")
	}
	op.Retain(5)
	if !op.IsNoop() {
		t.Fatal("pure retain op should be noop")
	}
	op.Insert("x")
	if op.IsNoop() {
		t.Fatal("op with insert should not be noop")
	}
}

func TestWireFormat(t *testing.T) {
	op := NewOperationSeq()
	op.Retain(2)
	op.Insert("hi")
	op.Delete(3)

	data, err := op.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `[2,"hi",-3]` {
		t.Fatalf("unexpected wire form: %s", data)
	}

	back, err := FromJSON(string(data))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if back.BaseLen() != op.BaseLen() || back.TargetLen() != op.TargetLen() {
		t.Fatalf("round-trip mismatch: %+v vs %+v", back, op)
	}
}

func TestNewOperationSeqWireForm(t *testing.T) {
	data, err := NewOperationSeq().MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "[]" {
		t.Fatalf("expected empty wire form, got %s", data)
	}
}

func TestComposeLengthMismatch(t *testing.T) {
	a := NewOperationSeq()
	a.Retain(3)
	b := NewOperationSeq()
	b.Retain(5)
	if _, err := a.Compose(b); err != ErrIncompatibleLengths {
		t.Fatalf("expected ErrIncompatibleLengths, got %v", err)
	}
}

func TestInvert(t *testing.T) {
	s := "hello"
	op := NewOperationSeq()
	op.Retain(1)
	op.Delete(1)
	op.Insert("E")
	op.Retain(3)

	applied := mustApply(t, op, s)
	inv := op.Invert(s)
	restored := mustApply(t, inv, applied)
	if restored != s {
		t.Fatalf("invert round-trip failed: got %q, want %q", restored, s)
	}
}
