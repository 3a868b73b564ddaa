package budget

import "testing"

func TestMaxRepoDataBytes(t *testing.T) {
	s := Spec{ContextWindowTokens: 128000, ReservationRatio: 0.65, BytesPerToken: 4.0}
	if got, want := s.MaxRepoDataBytes(), 332800; got != want {
		t.Errorf("expected %d, got %d", want, got)
	}

	// Fractional product floors.
	s = Spec{ContextWindowTokens: 1001, ReservationRatio: 0.5, BytesPerToken: 4.0}
	if got, want := s.MaxRepoDataBytes(), 2002; got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
}

func TestEstimatedTokens(t *testing.T) {
	s := Spec{BytesPerToken: 4.0}
	cases := []struct {
		bytes int
		want  int
	}{
		{0, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{4000, 1000},
	}
	for _, c := range cases {
		if got := s.EstimatedTokens(c.bytes); got != c.want {
			t.Errorf("EstimatedTokens(%d): expected %d, got %d", c.bytes, c.want, got)
		}
	}
}

func TestTokensToBytes(t *testing.T) {
	s := Spec{BytesPerToken: 4.0}
	if got := s.TokensToBytes(100); got != 400 {
		t.Errorf("expected 400, got %d", got)
	}
	if got := s.TokensToBytes(0); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}
