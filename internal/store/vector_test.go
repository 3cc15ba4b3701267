package store

import "testing"

func TestVectorLiteralRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 0, 3.14159}
	lit := vectorLiteral(in)
	out, err := parseVector(lit)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d", len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("component %d: %v != %v", i, out[i], in[i])
		}
	}
}

func TestParseVector_EmptyAndMalformed(t *testing.T) {
	if v, err := parseVector(""); err != nil || v != nil {
		t.Errorf("empty: %v %v", v, err)
	}
	if v, err := parseVector("[]"); err != nil || len(v) != 0 {
		t.Errorf("brackets: %v %v", v, err)
	}
	if _, err := parseVector("1,2,3"); err == nil {
		t.Error("missing brackets should fail")
	}
	if _, err := parseVector("[1,x]"); err == nil {
		t.Error("bad component should fail")
	}
}
