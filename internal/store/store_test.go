package store

import (
	"errors"
	"math/big"
	"testing"
)

// fakePgErr implements the same SQLState() string interface pgconn.PgError
// does, without depending on pgconn directly.
type fakePgErr struct {
	state string
}

func (e fakePgErr) Error() string   { return "pg error " + e.state }
func (e fakePgErr) SQLState() string { return e.state }

func TestRatString_NilIsZero(t *testing.T) {
	if got := ratString(nil); got != "0" {
		t.Fatalf("ratString(nil) = %q, want %q", got, "0")
	}
}

func TestRatString_FormatsFixedPoint(t *testing.T) {
	r := big.NewRat(3, 2) // 1.5
	got := ratString(r)
	want := "1.500000000000000000" // FloatString(18)
	if got != want {
		t.Fatalf("ratString(3/2) = %q, want %q", got, want)
	}
}

func TestIsUniqueViolation_MatchesSQLState23505(t *testing.T) {
	err := fakePgErr{state: "23505"}
	if !isUniqueViolation(err) {
		t.Fatalf("want true for SQLSTATE 23505")
	}
}

func TestIsUniqueViolation_RejectsOtherStates(t *testing.T) {
	err := fakePgErr{state: "23503"} // foreign_key_violation
	if isUniqueViolation(err) {
		t.Fatalf("want false for SQLSTATE 23503")
	}
}

func TestIsUniqueViolation_RejectsPlainErrors(t *testing.T) {
	if isUniqueViolation(errors.New("boom")) {
		t.Fatalf("want false for an error with no SQLState")
	}
}

func TestIsUniqueViolation_UnwrapsWrappedError(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), fakePgErr{state: "23505"})
	if !isUniqueViolation(wrapped) {
		t.Fatalf("want true for a wrapped unique violation")
	}
}
