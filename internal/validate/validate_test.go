package validate

import (
	"math"
	"strings"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := Default()

	t.Run("Positive", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			tests := []struct {
				name string
				raw  any
				want float64
			}{
				{"integer", "1", 1},
				{"fraction", "0.5", 0.5},
				{"exponent", "1e3", 1000},
				{"whitespace", "  12.5\t", 12.5},
				{"float64", 3.25, 3.25},
				{"int", 4, 4},
				{"int64", int64(7), 7},
				{"upper exponent", "2.5E-2", 0.025},
				{"underscores", "1_000.5", 1000.5},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got := r.Validate("VIEW", tt.raw)
					if !got.Valid {
						t.Fatalf("Validate(%v) invalid: %s", tt.raw, got.Message)
					}
					if got.Message != "" {
						t.Errorf("Message = %q, want empty", got.Message)
					}
					if got.Value != tt.want {
						t.Errorf("Value = %v, want %v", got.Value, tt.want)
					}
				})
			}
		})

		t.Run("invalid", func(t *testing.T) {
			tests := []struct {
				name string
				raw  any
				msg  string
			}{
				{"zero", "0", "VIEW must be a positive number greater than 0"},
				{"negative", "-1", "VIEW must be a positive number greater than 0"},
				{"text", "abc", `invalid number: "abc"`},
				{"empty", "", "VIEW cannot be empty"},
				{"blank", "   ", "VIEW cannot be empty"},
				{"nil", nil, "VIEW cannot be empty"},
				{"infinity", "inf", "VIEW must be a finite number"},
				{"overflow", "1e400", "VIEW must be a finite number"},
				{"nan", math.NaN(), "VIEW must be a finite number"},
				{"unsupported type", true, `invalid number: "true"`},
				{"hexadecimal", "0x1p3", `invalid number: "0x1p3"`},
				{"signed hexadecimal", "+0X10", `invalid number: "+0X10"`},
				{"leading underscore", "_1", `invalid number: "_1"`},
				{"double underscore", "1__0", `invalid number: "1__0"`},
				{"underscore before dot", "1_.5", `invalid number: "1_.5"`},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got := r.Validate("VIEW", tt.raw)
					if got.Valid {
						t.Fatalf("Validate(%v) valid, want invalid", tt.raw)
					}
					if got.Message != tt.msg {
						t.Errorf("Message = %q, want %q", got.Message, tt.msg)
					}
					if got.Value != nil {
						t.Errorf("Value = %v, want nil", got.Value)
					}
				})
			}
		})
	})

	t.Run("NegativeOrEmpty", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			tests := []struct {
				name string
				raw  any
				want any
			}{
				{"minus one", "-1", -1.0},
				{"small", "-0.01", -0.01},
				{"exponent", " -1e2 ", -100.0},
				{"empty", "", nil},
				{"blank", "  ", nil},
				{"nil", nil, nil},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got := r.Validate("SHORTLIMIT", tt.raw)
					if !got.Valid {
						t.Fatalf("Validate(%v) invalid: %s", tt.raw, got.Message)
					}
					if got.Value != tt.want {
						t.Errorf("Value = %v, want %v", got.Value, tt.want)
					}
				})
			}
		})

		t.Run("invalid", func(t *testing.T) {
			tests := []struct {
				name string
				raw  any
				msg  string
			}{
				{"zero", "0", "SHORTLIMIT cannot be zero - must be negative or empty"},
				{"negative zero", "-0", "SHORTLIMIT cannot be zero - must be negative or empty"},
				{"positive", "5", "SHORTLIMIT must be negative or empty"},
				{"text", "x1", `invalid number: "x1"`},
				{"hexadecimal", "-0x1p3", `invalid number: "-0x1p3"`},
				{"minus infinity", "-Inf", "SHORTLIMIT must be a finite number"},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got := r.Validate("SHORTLIMIT", tt.raw)
					if got.Valid {
						t.Fatalf("Validate(%v) valid, want invalid", tt.raw)
					}
					if got.Message != tt.msg {
						t.Errorf("Message = %q, want %q", got.Message, tt.msg)
					}
				})
			}
		})
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		if !r.Editable("view") || !r.Editable("ShortLimit") {
			t.Error("Editable should ignore case")
		}
		got := r.Validate("view", "2")
		if !got.Valid || got.Value != 2.0 {
			t.Errorf("Validate(view, 2) = %+v", got)
		}
	})

	t.Run("ReadOnly", func(t *testing.T) {
		if r.Editable("CLUSTER") {
			t.Error("CLUSTER should not be editable")
		}
		got := r.Validate("FLOW", "1")
		if got.Valid {
			t.Fatal("FLOW should be read-only")
		}
		if !strings.Contains(got.Message, "read-only") {
			t.Errorf("Message = %q, want read-only explanation", got.Message)
		}
	})

	t.Run("ParseVsRange", func(t *testing.T) {
		parse := r.Validate("VIEW", "twelve")
		rng := r.Validate("VIEW", "-12")
		if parse.Message == rng.Message {
			t.Errorf("parse and range failures share message %q", parse.Message)
		}
	})
}

func TestNew(t *testing.T) {
	r := New([]string{"SP", "VIEW"}, nil)
	if !r.Editable("sp") {
		t.Error("SP should be editable")
	}
	if r.Editable("SHORTLIMIT") {
		t.Error("SHORTLIMIT should not be editable")
	}
	if got := len(r.Columns()); got != 2 {
		t.Errorf("len(Columns()) = %d, want 2", got)
	}
}
