package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/cafebabe-vm/cafebabe/pkg/classfile"
)

func TestIntWrapping(t *testing.T) {
	sum, err := IntValue(math.MaxInt32).Add(IntValue(1))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.Int != math.MinInt32 {
		t.Errorf("INT_MAX + 1: got %d, want %d", sum.Int, math.MinInt32)
	}

	product, err := IntValue(math.MinInt32).Mul(IntValue(-1))
	if err != nil {
		t.Fatalf("Mul: %v", err)
	}
	if product.Int != math.MinInt32 {
		t.Errorf("INT_MIN * -1: got %d, want %d", product.Int, math.MinInt32)
	}
}

func TestDivisionByZero(t *testing.T) {
	if _, err := IntValue(1).Div(IntValue(0)); !errors.Is(err, ErrArithmetic) {
		t.Errorf("idiv by zero: got %v, want ErrArithmetic", err)
	}
	if _, err := LongValue(1).Rem(LongValue(0)); !errors.Is(err, ErrArithmetic) {
		t.Errorf("lrem by zero: got %v, want ErrArithmetic", err)
	}
	// Float division by zero is not an error.
	q, err := FloatValue(1).Div(FloatValue(0))
	if err != nil {
		t.Fatalf("fdiv by zero: %v", err)
	}
	if !math.IsInf(float64(q.Float), 1) {
		t.Errorf("fdiv 1/0: got %v, want +Inf", q.Float)
	}
}

func TestDivOverflowWraps(t *testing.T) {
	q, err := IntValue(math.MinInt32).Div(IntValue(-1))
	if err != nil {
		t.Fatalf("Div: %v", err)
	}
	if q.Int != math.MinInt32 {
		t.Errorf("INT_MIN / -1: got %d, want %d", q.Int, math.MinInt32)
	}
}

func TestMixedKindsRejected(t *testing.T) {
	if _, err := IntValue(1).Add(LongValue(1)); !errors.Is(err, ErrIllegalArgument) {
		t.Errorf("int + long: got %v, want ErrIllegalArgument", err)
	}
	if _, err := FloatValue(1).And(FloatValue(1)); !errors.Is(err, ErrIllegalArgument) {
		t.Errorf("float & float: got %v, want ErrIllegalArgument", err)
	}
}

func TestNarrowingConversions(t *testing.T) {
	tests := []struct {
		name string
		got  func() (Value, error)
		want Value
	}{
		{"i2b wraps", IntValue(300).AsByte, ByteValue(44)},
		{"i2c wraps", IntValue(-1).AsChar, CharValue(65535)},
		{"i2s wraps", IntValue(65536 + 7).AsShort, ShortValue(7)},
		{"l2i wraps", LongValue(1 << 35).AsInt, IntValue(0)},
		{"d2i NaN", DoubleValue(math.NaN()).AsInt, IntValue(0)},
		{"d2i saturates high", DoubleValue(1e18).AsInt, IntValue(math.MaxInt32)},
		{"f2i saturates low", FloatValue(-1e18).AsInt, IntValue(math.MinInt32)},
		{"null reads as zero", NullValue().AsInt, IntValue(0)},
		{"char widens unsigned", CharValue(65535).AsInt, IntValue(65535)},
		{"byte widens signed", ByteValue(-1).AsInt, IntValue(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.got()
			if err != nil {
				t.Fatalf("conversion: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestShifts(t *testing.T) {
	ushr, err := IntValue(-8).Ushr(IntValue(1))
	if err != nil {
		t.Fatalf("Ushr: %v", err)
	}
	if ushr.Int != int32(uint32(0xFFFFFFF8)>>1) {
		t.Errorf("ushr: got %d", ushr.Int)
	}

	// Shift counts are masked to 5 bits for int.
	masked, err := IntValue(1).Shl(IntValue(33))
	if err != nil {
		t.Fatalf("Shl: %v", err)
	}
	if masked.Int != 2 {
		t.Errorf("1 << 33: got %d, want 2", masked.Int)
	}

	longShift, err := LongValue(1).Shl(LongValue(33))
	if err != nil {
		t.Fatalf("long Shl: %v", err)
	}
	if longShift.Long != 1<<33 {
		t.Errorf("1L << 33: got %d", longShift.Long)
	}
}

func TestCmpFamily(t *testing.T) {
	cmp, err := LongValue(3).Cmp(LongValue(5))
	if err != nil {
		t.Fatalf("Cmp: %v", err)
	}
	if cmp.Int != -1 {
		t.Errorf("3 cmp 5: got %d, want -1", cmp.Int)
	}

	nan := FloatValue(float32(math.NaN()))
	low, err := nan.Cmpl(FloatValue(1))
	if err != nil {
		t.Fatalf("Cmpl: %v", err)
	}
	if low.Int != -1 {
		t.Errorf("cmpl NaN: got %d, want -1", low.Int)
	}
	high, err := nan.Cmpg(FloatValue(1))
	if err != nil {
		t.Fatalf("Cmpg: %v", err)
	}
	if high.Int != 1 {
		t.Errorf("cmpg NaN: got %d, want 1", high.Int)
	}

	nullLow, err := NullValue().Cmpl(DoubleValue(1))
	if err != nil {
		t.Fatalf("null Cmpl: %v", err)
	}
	if nullLow.Int != -1 {
		t.Errorf("cmpl null: got %d, want -1", nullLow.Int)
	}
}

func TestReferenceCmp(t *testing.T) {
	same, err := RefValue(3).Cmp(RefValue(3))
	if err != nil {
		t.Fatalf("Cmp: %v", err)
	}
	if same.Int != 0 {
		t.Error("identical references compare equal")
	}
	diff, err := RefValue(3).Cmp(RefValue(4))
	if err != nil {
		t.Fatalf("Cmp: %v", err)
	}
	if diff.Int == 0 {
		t.Error("distinct references compare unequal")
	}
	nulls, err := NullValue().Cmp(NullValue())
	if err != nil {
		t.Fatalf("Cmp: %v", err)
	}
	if nulls.Int != 0 {
		t.Error("null compares equal to null")
	}
}

func TestCoerce(t *testing.T) {
	long, err := IntValue(7).Coerce(classfile.SingleType(classfile.KindLong))
	if err != nil {
		t.Fatalf("Coerce: %v", err)
	}
	if long != LongValue(7) {
		t.Errorf("int→long: got %s", long)
	}

	ref, err := RefValue(9).Coerce(classfile.ObjectType("java/lang/String"))
	if err != nil {
		t.Fatalf("Coerce: %v", err)
	}
	if ref != RefValue(9) {
		t.Errorf("ref→object: got %s", ref)
	}

	if _, err := IntValue(1).Coerce(classfile.ObjectType("java/lang/Object")); !errors.Is(err, ErrIllegalArgument) {
		t.Errorf("int→object: got %v, want ErrIllegalArgument", err)
	}

	arr, err := NullValue().Coerce(classfile.Type{Kind: classfile.KindInt, Dims: 1})
	if err != nil {
		t.Fatalf("Coerce: %v", err)
	}
	if !arr.IsNull() {
		t.Errorf("null→[I: got %s", arr)
	}
}
