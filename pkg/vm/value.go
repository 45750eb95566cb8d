package vm

import (
	"fmt"
	"math"

	"github.com/cafebabe-vm/cafebabe/pkg/classfile"
)

// Kind tags a Value.
type Kind int

const (
	KindVoid Kind = iota
	KindNull
	KindBoolean
	KindByte
	KindChar
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindReference
)

var kindNames = map[Kind]string{
	KindVoid:      "Void",
	KindNull:      "Null",
	KindBoolean:   "Boolean",
	KindByte:      "Byte",
	KindChar:      "Char",
	KindShort:     "Short",
	KindInt:       "Int",
	KindLong:      "Long",
	KindFloat:     "Float",
	KindDouble:    "Double",
	KindReference: "Reference",
}

// Value is a tagged primitive or heap reference, as held in locals and on
// the operand stack. Exactly the field matching Kind is meaningful.
type Value struct {
	Kind   Kind
	Bool   bool
	Byte   int8
	Char   uint16
	Short  int16
	Int    int32
	Long   int64
	Float  float32
	Double float64
	Ref    int // heap index
}

func VoidValue() Value            { return Value{Kind: KindVoid} }
func NullValue() Value            { return Value{Kind: KindNull} }
func BoolValue(v bool) Value      { return Value{Kind: KindBoolean, Bool: v} }
func ByteValue(v int8) Value      { return Value{Kind: KindByte, Byte: v} }
func CharValue(v uint16) Value    { return Value{Kind: KindChar, Char: v} }
func ShortValue(v int16) Value    { return Value{Kind: KindShort, Short: v} }
func IntValue(v int32) Value      { return Value{Kind: KindInt, Int: v} }
func LongValue(v int64) Value     { return Value{Kind: KindLong, Long: v} }
func FloatValue(v float32) Value  { return Value{Kind: KindFloat, Float: v} }
func DoubleValue(v float64) Value { return Value{Kind: KindDouble, Double: v} }
func RefValue(index int) Value    { return Value{Kind: KindReference, Ref: index} }

// IsNull reports whether the value is the null reference.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsVoid reports whether the value is the void marker.
func (v Value) IsVoid() bool { return v.Kind == KindVoid }

// IsWide reports whether the value occupies two stack slots.
func (v Value) IsWide() bool { return v.Kind == KindLong || v.Kind == KindDouble }

func (v Value) String() string {
	switch v.Kind {
	case KindBoolean:
		return fmt.Sprintf("Boolean(%t)", v.Bool)
	case KindByte:
		return fmt.Sprintf("Byte(%d)", v.Byte)
	case KindChar:
		return fmt.Sprintf("Char(%d)", v.Char)
	case KindShort:
		return fmt.Sprintf("Short(%d)", v.Short)
	case KindInt:
		return fmt.Sprintf("Int(%d)", v.Int)
	case KindLong:
		return fmt.Sprintf("Long(%d)", v.Long)
	case KindFloat:
		return fmt.Sprintf("Float(%v)", v.Float)
	case KindDouble:
		return fmt.Sprintf("Double(%v)", v.Double)
	case KindReference:
		return fmt.Sprintf("Reference(%d)", v.Ref)
	default:
		return kindNames[v.Kind]
	}
}

// intBits widens any integral value to int64. Null reads as zero.
func (v Value) intBits() (int64, bool) {
	switch v.Kind {
	case KindBoolean:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case KindByte:
		return int64(v.Byte), true
	case KindChar:
		return int64(v.Char), true
	case KindShort:
		return int64(v.Short), true
	case KindInt:
		return int64(v.Int), true
	case KindLong:
		return v.Long, true
	case KindNull:
		return 0, true
	default:
		return 0, false
	}
}

// floatBits widens any numeric value to float64. Null reads as zero.
func (v Value) floatBits() (float64, bool) {
	if bits, ok := v.intBits(); ok {
		return float64(bits), true
	}
	switch v.Kind {
	case KindFloat:
		return float64(v.Float), true
	case KindDouble:
		return v.Double, true
	default:
		return 0, false
	}
}

// narrowFloat applies the JVM float-to-integral rule: NaN becomes zero and
// out-of-range values saturate.
func narrowFloat(f float64, min, max int64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f <= float64(min):
		return min
	case f >= float64(max):
		return max
	default:
		return int64(f)
	}
}

func (v Value) numeric() (int64, float64, bool, bool) {
	if v.Kind == KindFloat || v.Kind == KindDouble {
		f, _ := v.floatBits()
		return 0, f, true, true
	}
	if bits, ok := v.intBits(); ok {
		return bits, 0, false, true
	}
	return 0, 0, false, false
}

// AsInt converts to Int with two's-complement wrapping (or the JVM
// float-to-int rule for floating operands).
func (v Value) AsInt() (Value, error) {
	bits, f, isFloat, ok := v.numeric()
	if !ok {
		return Value{}, fmt.Errorf("cannot convert %s to int: %w", v, ErrIllegalArgument)
	}
	if isFloat {
		return IntValue(int32(narrowFloat(f, math.MinInt32, math.MaxInt32))), nil
	}
	return IntValue(int32(bits)), nil
}

// AsLong converts to Long.
func (v Value) AsLong() (Value, error) {
	bits, f, isFloat, ok := v.numeric()
	if !ok {
		return Value{}, fmt.Errorf("cannot convert %s to long: %w", v, ErrIllegalArgument)
	}
	if isFloat {
		return LongValue(narrowFloat(f, math.MinInt64, math.MaxInt64)), nil
	}
	return LongValue(bits), nil
}

// AsFloat converts to Float.
func (v Value) AsFloat() (Value, error) {
	f, ok := v.floatBits()
	if !ok {
		return Value{}, fmt.Errorf("cannot convert %s to float: %w", v, ErrIllegalArgument)
	}
	return FloatValue(float32(f)), nil
}

// AsDouble converts to Double.
func (v Value) AsDouble() (Value, error) {
	f, ok := v.floatBits()
	if !ok {
		return Value{}, fmt.Errorf("cannot convert %s to double: %w", v, ErrIllegalArgument)
	}
	return DoubleValue(f), nil
}

// AsByte converts to Byte, wrapping.
func (v Value) AsByte() (Value, error) {
	iv, err := v.AsInt()
	if err != nil {
		return Value{}, err
	}
	return ByteValue(int8(iv.Int)), nil
}

// AsChar converts to Char, wrapping.
func (v Value) AsChar() (Value, error) {
	iv, err := v.AsInt()
	if err != nil {
		return Value{}, err
	}
	return CharValue(uint16(iv.Int)), nil
}

// AsShort converts to Short, wrapping.
func (v Value) AsShort() (Value, error) {
	iv, err := v.AsInt()
	if err != nil {
		return Value{}, err
	}
	return ShortValue(int16(iv.Int)), nil
}

// AsBoolean converts to Boolean; any non-zero numeric reads as true.
func (v Value) AsBoolean() (Value, error) {
	bits, f, isFloat, ok := v.numeric()
	if !ok {
		return Value{}, fmt.Errorf("cannot convert %s to boolean: %w", v, ErrIllegalArgument)
	}
	if isFloat {
		return BoolValue(f != 0), nil
	}
	return BoolValue(bits != 0), nil
}

// AsReference passes through null and reference values and rejects
// everything else.
func (v Value) AsReference() (Value, error) {
	switch v.Kind {
	case KindNull, KindReference:
		return v, nil
	default:
		return Value{}, fmt.Errorf("cannot convert %s to reference: %w", v, ErrIllegalArgument)
	}
}

// AsVoid accepts only the void marker.
func (v Value) AsVoid() (Value, error) {
	if v.Kind != KindVoid {
		return Value{}, fmt.Errorf("cannot convert %s to void: %w", v, ErrIllegalArgument)
	}
	return v, nil
}

// Coerce converts the value to a descriptor type using the JVM
// widening/narrowing rules.
func (v Value) Coerce(t classfile.Type) (Value, error) {
	if t.Dims > 0 {
		return v.AsReference()
	}
	switch t.Kind {
	case classfile.KindBoolean:
		return v.AsBoolean()
	case classfile.KindByte:
		return v.AsByte()
	case classfile.KindChar:
		return v.AsChar()
	case classfile.KindShort:
		return v.AsShort()
	case classfile.KindInt:
		return v.AsInt()
	case classfile.KindLong:
		return v.AsLong()
	case classfile.KindFloat:
		return v.AsFloat()
	case classfile.KindDouble:
		return v.AsDouble()
	case classfile.KindObject:
		return v.AsReference()
	case classfile.KindVoid:
		return v.AsVoid()
	default:
		return Value{}, fmt.Errorf("cannot coerce %s: %w", v, ErrIllegalArgument)
	}
}

// binOp checks that two operands share one primitive kind and returns them
// for the arithmetic operation named by name.
func binOp(left, right Value, name string) (Value, Value, error) {
	if left.Kind != right.Kind {
		return Value{}, Value{}, fmt.Errorf("%s on %s and %s: %w", name, left, right, ErrIllegalArgument)
	}
	switch left.Kind {
	case KindInt, KindLong, KindFloat, KindDouble:
		return left, right, nil
	default:
		return Value{}, Value{}, fmt.Errorf("%s on %s: %w", name, left, ErrIllegalArgument)
	}
}

// Add returns left + right.
func (v Value) Add(other Value) (Value, error) {
	left, right, err := binOp(v, other, "add")
	if err != nil {
		return Value{}, err
	}
	switch left.Kind {
	case KindInt:
		return IntValue(left.Int + right.Int), nil
	case KindLong:
		return LongValue(left.Long + right.Long), nil
	case KindFloat:
		return FloatValue(left.Float + right.Float), nil
	default:
		return DoubleValue(left.Double + right.Double), nil
	}
}

// Sub returns left - right.
func (v Value) Sub(other Value) (Value, error) {
	left, right, err := binOp(v, other, "sub")
	if err != nil {
		return Value{}, err
	}
	switch left.Kind {
	case KindInt:
		return IntValue(left.Int - right.Int), nil
	case KindLong:
		return LongValue(left.Long - right.Long), nil
	case KindFloat:
		return FloatValue(left.Float - right.Float), nil
	default:
		return DoubleValue(left.Double - right.Double), nil
	}
}

// Mul returns left * right.
func (v Value) Mul(other Value) (Value, error) {
	left, right, err := binOp(v, other, "mul")
	if err != nil {
		return Value{}, err
	}
	switch left.Kind {
	case KindInt:
		return IntValue(left.Int * right.Int), nil
	case KindLong:
		return LongValue(left.Long * right.Long), nil
	case KindFloat:
		return FloatValue(left.Float * right.Float), nil
	default:
		return DoubleValue(left.Double * right.Double), nil
	}
}

// Div returns left / right. Integer division by zero is an arithmetic
// error; MinInt / -1 wraps.
func (v Value) Div(other Value) (Value, error) {
	left, right, err := binOp(v, other, "div")
	if err != nil {
		return Value{}, err
	}
	switch left.Kind {
	case KindInt:
		if right.Int == 0 {
			return Value{}, fmt.Errorf("/ by zero: %w", ErrArithmetic)
		}
		if left.Int == math.MinInt32 && right.Int == -1 {
			return IntValue(math.MinInt32), nil
		}
		return IntValue(left.Int / right.Int), nil
	case KindLong:
		if right.Long == 0 {
			return Value{}, fmt.Errorf("/ by zero: %w", ErrArithmetic)
		}
		if left.Long == math.MinInt64 && right.Long == -1 {
			return LongValue(math.MinInt64), nil
		}
		return LongValue(left.Long / right.Long), nil
	case KindFloat:
		return FloatValue(left.Float / right.Float), nil
	default:
		return DoubleValue(left.Double / right.Double), nil
	}
}

// Rem returns left % right with JVM remainder semantics.
func (v Value) Rem(other Value) (Value, error) {
	left, right, err := binOp(v, other, "rem")
	if err != nil {
		return Value{}, err
	}
	switch left.Kind {
	case KindInt:
		if right.Int == 0 {
			return Value{}, fmt.Errorf("%% by zero: %w", ErrArithmetic)
		}
		if left.Int == math.MinInt32 && right.Int == -1 {
			return IntValue(0), nil
		}
		return IntValue(left.Int % right.Int), nil
	case KindLong:
		if right.Long == 0 {
			return Value{}, fmt.Errorf("%% by zero: %w", ErrArithmetic)
		}
		if left.Long == math.MinInt64 && right.Long == -1 {
			return LongValue(0), nil
		}
		return LongValue(left.Long % right.Long), nil
	case KindFloat:
		return FloatValue(float32(math.Mod(float64(left.Float), float64(right.Float)))), nil
	default:
		return DoubleValue(math.Mod(left.Double, right.Double)), nil
	}
}

// Neg returns the arithmetic negation.
func (v Value) Neg() (Value, error) {
	switch v.Kind {
	case KindInt:
		return IntValue(-v.Int), nil
	case KindLong:
		return LongValue(-v.Long), nil
	case KindFloat:
		return FloatValue(-v.Float), nil
	case KindDouble:
		return DoubleValue(-v.Double), nil
	default:
		return Value{}, fmt.Errorf("neg on %s: %w", v, ErrIllegalArgument)
	}
}

// bitOp checks that the operands are two Ints or two Longs.
func bitOp(left, right Value, name string) error {
	if left.Kind != right.Kind || (left.Kind != KindInt && left.Kind != KindLong) {
		return fmt.Errorf("%s on %s and %s: %w", name, left, right, ErrIllegalArgument)
	}
	return nil
}

// And returns the bitwise and.
func (v Value) And(other Value) (Value, error) {
	if err := bitOp(v, other, "and"); err != nil {
		return Value{}, err
	}
	if v.Kind == KindInt {
		return IntValue(v.Int & other.Int), nil
	}
	return LongValue(v.Long & other.Long), nil
}

// Or returns the bitwise or.
func (v Value) Or(other Value) (Value, error) {
	if err := bitOp(v, other, "or"); err != nil {
		return Value{}, err
	}
	if v.Kind == KindInt {
		return IntValue(v.Int | other.Int), nil
	}
	return LongValue(v.Long | other.Long), nil
}

// Xor returns the bitwise exclusive or.
func (v Value) Xor(other Value) (Value, error) {
	if err := bitOp(v, other, "xor"); err != nil {
		return Value{}, err
	}
	if v.Kind == KindInt {
		return IntValue(v.Int ^ other.Int), nil
	}
	return LongValue(v.Long ^ other.Long), nil
}

// Shl shifts left. The shift count is masked as the JVM does.
func (v Value) Shl(other Value) (Value, error) {
	if err := bitOp(v, other, "shl"); err != nil {
		return Value{}, err
	}
	if v.Kind == KindInt {
		return IntValue(v.Int << (uint32(other.Int) & 0x1f)), nil
	}
	return LongValue(v.Long << (uint64(other.Long) & 0x3f)), nil
}

// Shr shifts right arithmetically.
func (v Value) Shr(other Value) (Value, error) {
	if err := bitOp(v, other, "shr"); err != nil {
		return Value{}, err
	}
	if v.Kind == KindInt {
		return IntValue(v.Int >> (uint32(other.Int) & 0x1f)), nil
	}
	return LongValue(v.Long >> (uint64(other.Long) & 0x3f)), nil
}

// Ushr shifts right logically.
func (v Value) Ushr(other Value) (Value, error) {
	if err := bitOp(v, other, "ushr"); err != nil {
		return Value{}, err
	}
	if v.Kind == KindInt {
		return IntValue(int32(uint32(v.Int) >> (uint32(other.Int) & 0x1f))), nil
	}
	return LongValue(int64(uint64(v.Long) >> (uint64(other.Long) & 0x3f))), nil
}

// Cmp returns Int(-1), Int(0) or Int(1) for an ordered comparison of two
// values of equal kind. References compare by identity.
func (v Value) Cmp(other Value) (Value, error) {
	if v.Kind == KindNull && other.Kind == KindNull {
		return IntValue(0), nil
	}
	if v.Kind == KindNull || other.Kind == KindNull {
		if v.Kind == KindReference || other.Kind == KindReference {
			return IntValue(1), nil
		}
	}
	if v.Kind == KindReference && other.Kind == KindReference {
		if v.Ref == other.Ref {
			return IntValue(0), nil
		}
		return IntValue(1), nil
	}
	if v.Kind != other.Kind {
		return Value{}, fmt.Errorf("cmp on %s and %s: %w", v, other, ErrIllegalArgument)
	}

	var gt, eq bool
	switch v.Kind {
	case KindInt:
		gt, eq = v.Int > other.Int, v.Int == other.Int
	case KindLong:
		gt, eq = v.Long > other.Long, v.Long == other.Long
	case KindFloat:
		gt, eq = v.Float > other.Float, v.Float == other.Float
	case KindDouble:
		gt, eq = v.Double > other.Double, v.Double == other.Double
	default:
		return Value{}, fmt.Errorf("cmp on %s: %w", v, ErrIllegalArgument)
	}

	switch {
	case gt:
		return IntValue(1), nil
	case eq:
		return IntValue(0), nil
	default:
		return IntValue(-1), nil
	}
}

// Cmpl compares, returning Int(-1) when either operand is null or NaN.
func (v Value) Cmpl(other Value) (Value, error) {
	if v.IsNull() || other.IsNull() || isNaN(v) || isNaN(other) {
		return IntValue(-1), nil
	}
	return v.Cmp(other)
}

// Cmpg compares, returning Int(1) when either operand is null or NaN.
func (v Value) Cmpg(other Value) (Value, error) {
	if v.IsNull() || other.IsNull() || isNaN(v) || isNaN(other) {
		return IntValue(1), nil
	}
	return v.Cmp(other)
}

func isNaN(v Value) bool {
	switch v.Kind {
	case KindFloat:
		return math.IsNaN(float64(v.Float))
	case KindDouble:
		return math.IsNaN(v.Double)
	default:
		return false
	}
}
