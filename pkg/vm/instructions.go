package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cafebabe-vm/cafebabe/pkg/classfile"
)

// stepResult is the outcome of executing one opcode: a signed pc offset,
// frames to push, and optionally a return or throw value. A throw leaves
// the pc on the faulting instruction so the handler search covers it.
type stepResult struct {
	offset int
	frames []frameRequest
	ret    *Value
	throw  *Value
}

func operandU8(code []byte, index int) (byte, error) {
	if index < 0 || index >= len(code) {
		return 0, fmt.Errorf("code offset %d: %w", index, ErrIndexOutOfBound)
	}
	return code[index], nil
}

func operandU16(code []byte, index int) (uint16, error) {
	if index < 0 || index+2 > len(code) {
		return 0, fmt.Errorf("code offset %d: %w", index, ErrIndexOutOfBound)
	}
	return uint16(code[index])<<8 | uint16(code[index+1]), nil
}

func operandI16(code []byte, index int) (int16, error) {
	v, err := operandU16(code, index)
	return int16(v), err
}

func operandI32(code []byte, index int) (int32, error) {
	if index < 0 || index+4 > len(code) {
		return 0, fmt.Errorf("code offset %d: %w", index, ErrIndexOutOfBound)
	}
	return int32(uint32(code[index])<<24 | uint32(code[index+1])<<16 |
		uint32(code[index+2])<<8 | uint32(code[index+3])), nil
}

// switchPadding aligns the first operand of tableswitch and lookupswitch:
// the operands start at the next 4-byte boundary counted from (pc+1).
func switchPadding(pc int) int {
	return (4 - (pc+1)%4) % 4
}

func localAt(f *Frame, index int) (Value, error) {
	if index < 0 || index >= len(f.locals) {
		return Value{}, fmt.Errorf("local %d of %d: %w", index, len(f.locals), ErrIndexOutOfBound)
	}
	return f.locals[index], nil
}

func setLocal(f *Frame, index int, v Value) error {
	if index < 0 || index >= len(f.locals) {
		return fmt.Errorf("local %d of %d: %w", index, len(f.locals), ErrIndexOutOfBound)
	}
	f.locals[index] = v
	return nil
}

// popArgs pops descriptor-many arguments in reverse, re-orders them to
// declaration order, and converts each to its declared parameter type.
func popArgs(f *Frame, desc *classfile.Descriptor) ([]Value, error) {
	args := make([]Value, len(desc.Parameters))
	for i := len(desc.Parameters) - 1; i >= 0; i-- {
		v, err := f.pop()
		if err != nil {
			return nil, err
		}
		coerced, err := v.Coerce(desc.Parameters[i])
		if err != nil {
			return nil, err
		}
		args[i] = coerced
	}
	return args, nil
}

// step executes the opcode at the frame's pc against the given class
// context.
func step(g *Global, f *Frame, class *classfile.Class, code *classfile.CodeAttr) (stepResult, error) {
	pc := f.pc
	if pc < 0 || pc >= len(code.Code) {
		return stepResult{}, fmt.Errorf("pc %d outside code of %s: %w", pc, f.methodRef, ErrIndexOutOfBound)
	}
	op := code.Code[pc]

	pop := f.pop
	popAs := func(conv func(Value) (Value, error)) (Value, error) {
		v, err := f.pop()
		if err != nil {
			return Value{}, err
		}
		return conv(v)
	}
	popInt := func() (Value, error) { return popAs(Value.AsInt) }
	popLong := func() (Value, error) { return popAs(Value.AsLong) }
	popFloat := func() (Value, error) { return popAs(Value.AsFloat) }
	popDouble := func() (Value, error) { return popAs(Value.AsDouble) }
	popRef := func() (Value, error) { return popAs(Value.AsReference) }

	// binary applies op to two same-kind operands popped via conv.
	binary := func(conv func(Value) (Value, error), apply func(Value, Value) (Value, error)) (stepResult, error) {
		right, err := popAs(conv)
		if err != nil {
			return stepResult{}, err
		}
		left, err := popAs(conv)
		if err != nil {
			return stepResult{}, err
		}
		result, err := apply(left, right)
		if err != nil {
			return stepResult{}, err
		}
		f.push(result)
		return stepResult{offset: 1}, nil
	}

	// branch16 evaluates a 2-byte branch offset.
	branch16 := func(taken bool) (stepResult, error) {
		offset, err := operandI16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		if taken {
			return stepResult{offset: int(offset)}, nil
		}
		return stepResult{offset: 3}, nil
	}

	switch op {
	case OpNop:
		return stepResult{offset: 1}, nil

	case OpAconstNull:
		f.push(NullValue())
		return stepResult{offset: 1}, nil

	case OpIconstM1, OpIconst0, OpIconst1, OpIconst2, OpIconst3, OpIconst4, OpIconst5:
		f.push(IntValue(int32(op) - OpIconst0))
		return stepResult{offset: 1}, nil

	case OpLconst0, OpLconst1:
		f.push(LongValue(int64(op) - OpLconst0))
		return stepResult{offset: 1}, nil

	case OpFconst0, OpFconst1, OpFconst2:
		f.push(FloatValue(float32(op) - OpFconst0))
		return stepResult{offset: 1}, nil

	case OpDconst0, OpDconst1:
		f.push(DoubleValue(float64(op) - OpDconst0))
		return stepResult{offset: 1}, nil

	case OpBipush:
		v, err := operandU8(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		f.push(IntValue(int32(int8(v))))
		return stepResult{offset: 2}, nil

	case OpSipush:
		v, err := operandI16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		f.push(IntValue(int32(v)))
		return stepResult{offset: 3}, nil

	case OpLdc:
		index, err := operandU8(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		if err := pushConstant(g, f, class, int(index), false); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 2}, nil

	case OpLdcW:
		index, err := operandU16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		if err := pushConstant(g, f, class, int(index), false); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 3}, nil

	case OpLdc2W:
		index, err := operandU16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		if err := pushConstant(g, f, class, int(index), true); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 3}, nil

	case OpIload, OpLload, OpFload, OpDload, OpAload:
		index, err := operandU8(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		if err := pushLocal(f, int(index), op); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 2}, nil

	case OpIload0, OpIload1, OpIload2, OpIload3:
		if err := pushLocal(f, int(op-OpIload0), OpIload); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 1}, nil
	case OpLload0, OpLload1, OpLload2, OpLload3:
		if err := pushLocal(f, int(op-OpLload0), OpLload); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 1}, nil
	case OpFload0, OpFload1, OpFload2, OpFload3:
		if err := pushLocal(f, int(op-OpFload0), OpFload); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 1}, nil
	case OpDload0, OpDload1, OpDload2, OpDload3:
		if err := pushLocal(f, int(op-OpDload0), OpDload); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 1}, nil
	case OpAload0, OpAload1, OpAload2, OpAload3:
		if err := pushLocal(f, int(op-OpAload0), OpAload); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 1}, nil

	case OpIaload, OpLaload, OpFaload, OpDaload, OpAaload, OpBaload, OpCaload, OpSaload:
		index, err := popInt()
		if err != nil {
			return stepResult{}, err
		}
		arrRef, err := popRef()
		if err != nil {
			return stepResult{}, err
		}
		obj, err := g.GetRef(arrRef)
		if err != nil {
			return stepResult{}, err
		}
		arr, err := obj.Array()
		if err != nil {
			return stepResult{}, err
		}
		if index.Int < 0 || int(index.Int) >= len(arr.Elements) {
			return stepResult{}, fmt.Errorf("index %d of %d: %w", index.Int, len(arr.Elements), ErrArrayIndexOutOfBound)
		}
		value := arr.Elements[index.Int]
		switch op {
		case OpIaload, OpBaload, OpCaload, OpSaload:
			value, err = value.AsInt()
		case OpLaload:
			value, err = value.AsLong()
		case OpFaload:
			value, err = value.AsFloat()
		case OpDaload:
			value, err = value.AsDouble()
		case OpAaload:
			value, err = value.AsReference()
		}
		if err != nil {
			return stepResult{}, err
		}
		f.push(value)
		return stepResult{offset: 1}, nil

	case OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
		index, err := operandU8(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		v, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		if err := setLocal(f, int(index), v); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 2}, nil

	case OpIstore0, OpIstore1, OpIstore2, OpIstore3:
		return storeImplicit(f, int(op-OpIstore0))
	case OpLstore0, OpLstore1, OpLstore2, OpLstore3:
		return storeImplicit(f, int(op-OpLstore0))
	case OpFstore0, OpFstore1, OpFstore2, OpFstore3:
		return storeImplicit(f, int(op-OpFstore0))
	case OpDstore0, OpDstore1, OpDstore2, OpDstore3:
		return storeImplicit(f, int(op-OpDstore0))
	case OpAstore0, OpAstore1, OpAstore2, OpAstore3:
		return storeImplicit(f, int(op-OpAstore0))

	case OpIastore, OpLastore, OpFastore, OpDastore, OpAastore, OpBastore, OpCastore, OpSastore:
		value, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		switch op {
		case OpIastore:
			value, err = value.AsInt()
		case OpLastore:
			value, err = value.AsLong()
		case OpFastore:
			value, err = value.AsFloat()
		case OpDastore:
			value, err = value.AsDouble()
		case OpAastore:
			value, err = value.AsReference()
		case OpBastore:
			value, err = value.AsByte()
		case OpCastore:
			value, err = value.AsChar()
		case OpSastore:
			value, err = value.AsShort()
		}
		if err != nil {
			return stepResult{}, err
		}
		index, err := popInt()
		if err != nil {
			return stepResult{}, err
		}
		arrRef, err := popRef()
		if err != nil {
			return stepResult{}, err
		}
		if err := g.ArraySet(arrRef, index.Int, value); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 1}, nil

	case OpPop:
		if _, err := pop(); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 1}, nil

	case OpPop2:
		v, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		if !v.IsWide() {
			if _, err := pop(); err != nil {
				return stepResult{}, err
			}
		}
		return stepResult{offset: 1}, nil

	case OpDup:
		v, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		f.push(v)
		f.push(v)
		return stepResult{offset: 1}, nil

	case OpDupX1:
		v1, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		v2, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		f.push(v1)
		f.push(v2)
		f.push(v1)
		return stepResult{offset: 1}, nil

	case OpDupX2:
		v1, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		v2, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		if v2.IsWide() {
			f.push(v1)
			f.push(v2)
			f.push(v1)
			return stepResult{offset: 1}, nil
		}
		v3, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		f.push(v1)
		f.push(v3)
		f.push(v2)
		f.push(v1)
		return stepResult{offset: 1}, nil

	case OpDup2:
		v1, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		if v1.IsWide() {
			f.push(v1)
			f.push(v1)
			return stepResult{offset: 1}, nil
		}
		v2, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		f.push(v2)
		f.push(v1)
		f.push(v2)
		f.push(v1)
		return stepResult{offset: 1}, nil

	case OpDup2X1:
		v1, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		if v1.IsWide() {
			v2, err := pop()
			if err != nil {
				return stepResult{}, err
			}
			f.push(v1)
			f.push(v2)
			f.push(v1)
			return stepResult{offset: 1}, nil
		}
		v2, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		v3, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		f.push(v2)
		f.push(v1)
		f.push(v3)
		f.push(v2)
		f.push(v1)
		return stepResult{offset: 1}, nil

	case OpDup2X2:
		v1, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		if v1.IsWide() {
			v2, err := pop()
			if err != nil {
				return stepResult{}, err
			}
			if v2.IsWide() {
				f.push(v1)
				f.push(v2)
				f.push(v1)
				return stepResult{offset: 1}, nil
			}
			v3, err := pop()
			if err != nil {
				return stepResult{}, err
			}
			f.push(v1)
			f.push(v3)
			f.push(v2)
			f.push(v1)
			return stepResult{offset: 1}, nil
		}
		v2, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		v3, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		if v3.IsWide() {
			f.push(v2)
			f.push(v1)
			f.push(v3)
			f.push(v2)
			f.push(v1)
			return stepResult{offset: 1}, nil
		}
		v4, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		f.push(v2)
		f.push(v1)
		f.push(v4)
		f.push(v3)
		f.push(v2)
		f.push(v1)
		return stepResult{offset: 1}, nil

	case OpSwap:
		v1, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		v2, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		f.push(v1)
		f.push(v2)
		return stepResult{offset: 1}, nil

	case OpIadd:
		return binary(Value.AsInt, Value.Add)
	case OpLadd:
		return binary(Value.AsLong, Value.Add)
	case OpFadd:
		return binary(Value.AsFloat, Value.Add)
	case OpDadd:
		return binary(Value.AsDouble, Value.Add)
	case OpIsub:
		return binary(Value.AsInt, Value.Sub)
	case OpLsub:
		return binary(Value.AsLong, Value.Sub)
	case OpFsub:
		return binary(Value.AsFloat, Value.Sub)
	case OpDsub:
		return binary(Value.AsDouble, Value.Sub)
	case OpImul:
		return binary(Value.AsInt, Value.Mul)
	case OpLmul:
		return binary(Value.AsLong, Value.Mul)
	case OpFmul:
		return binary(Value.AsFloat, Value.Mul)
	case OpDmul:
		return binary(Value.AsDouble, Value.Mul)
	case OpIdiv:
		return binary(Value.AsInt, Value.Div)
	case OpLdiv:
		return binary(Value.AsLong, Value.Div)
	case OpFdiv:
		return binary(Value.AsFloat, Value.Div)
	case OpDdiv:
		return binary(Value.AsDouble, Value.Div)
	case OpIrem:
		return binary(Value.AsInt, Value.Rem)
	case OpLrem:
		return binary(Value.AsLong, Value.Rem)
	case OpFrem:
		return binary(Value.AsFloat, Value.Rem)
	case OpDrem:
		return binary(Value.AsDouble, Value.Rem)

	case OpIneg, OpLneg, OpFneg, OpDneg:
		v, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		switch op {
		case OpIneg:
			v, err = v.AsInt()
		case OpLneg:
			v, err = v.AsLong()
		case OpFneg:
			v, err = v.AsFloat()
		case OpDneg:
			v, err = v.AsDouble()
		}
		if err != nil {
			return stepResult{}, err
		}
		result, err := v.Neg()
		if err != nil {
			return stepResult{}, err
		}
		f.push(result)
		return stepResult{offset: 1}, nil

	case OpIshl:
		return binary(Value.AsInt, Value.Shl)
	case OpLshl:
		return shiftLong(f, Value.Shl)
	case OpIshr:
		return binary(Value.AsInt, Value.Shr)
	case OpLshr:
		return shiftLong(f, Value.Shr)
	case OpIushr:
		return binary(Value.AsInt, Value.Ushr)
	case OpLushr:
		return shiftLong(f, Value.Ushr)
	case OpIand:
		return binary(Value.AsInt, Value.And)
	case OpLand:
		return binary(Value.AsLong, Value.And)
	case OpIor:
		return binary(Value.AsInt, Value.Or)
	case OpLor:
		return binary(Value.AsLong, Value.Or)
	case OpIxor:
		return binary(Value.AsInt, Value.Xor)
	case OpLxor:
		return binary(Value.AsLong, Value.Xor)

	case OpIinc:
		index, err := operandU8(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		delta, err := operandU8(code.Code, pc+2)
		if err != nil {
			return stepResult{}, err
		}
		local, err := localAt(f, int(index))
		if err != nil {
			return stepResult{}, err
		}
		iv, err := local.AsInt()
		if err != nil {
			return stepResult{}, err
		}
		if err := setLocal(f, int(index), IntValue(iv.Int+int32(int8(delta)))); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 3}, nil

	case OpI2l, OpF2l, OpD2l:
		v, err := popLong()
		if err != nil {
			return stepResult{}, err
		}
		f.push(v)
		return stepResult{offset: 1}, nil
	case OpL2i, OpF2i, OpD2i:
		v, err := popInt()
		if err != nil {
			return stepResult{}, err
		}
		f.push(v)
		return stepResult{offset: 1}, nil
	case OpI2f, OpL2f, OpD2f:
		v, err := popFloat()
		if err != nil {
			return stepResult{}, err
		}
		f.push(v)
		return stepResult{offset: 1}, nil
	case OpI2d, OpL2d, OpF2d:
		v, err := popDouble()
		if err != nil {
			return stepResult{}, err
		}
		f.push(v)
		return stepResult{offset: 1}, nil
	case OpI2b:
		v, err := popAs(Value.AsByte)
		if err != nil {
			return stepResult{}, err
		}
		f.push(v)
		return stepResult{offset: 1}, nil
	case OpI2c:
		v, err := popAs(Value.AsChar)
		if err != nil {
			return stepResult{}, err
		}
		f.push(v)
		return stepResult{offset: 1}, nil
	case OpI2s:
		v, err := popAs(Value.AsShort)
		if err != nil {
			return stepResult{}, err
		}
		f.push(v)
		return stepResult{offset: 1}, nil

	case OpLcmp:
		return binary(Value.AsLong, Value.Cmp)
	case OpFcmpl:
		return binary(Value.AsFloat, Value.Cmpl)
	case OpFcmpg:
		return binary(Value.AsFloat, Value.Cmpg)
	case OpDcmpl:
		return binary(Value.AsDouble, Value.Cmpl)
	case OpDcmpg:
		return binary(Value.AsDouble, Value.Cmpg)

	case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle:
		v, err := popInt()
		if err != nil {
			return stepResult{}, err
		}
		var taken bool
		switch op {
		case OpIfeq:
			taken = v.Int == 0
		case OpIfne:
			taken = v.Int != 0
		case OpIflt:
			taken = v.Int < 0
		case OpIfge:
			taken = v.Int >= 0
		case OpIfgt:
			taken = v.Int > 0
		case OpIfle:
			taken = v.Int <= 0
		}
		return branch16(taken)

	case OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple:
		right, err := popInt()
		if err != nil {
			return stepResult{}, err
		}
		left, err := popInt()
		if err != nil {
			return stepResult{}, err
		}
		var taken bool
		switch op {
		case OpIfIcmpeq:
			taken = left.Int == right.Int
		case OpIfIcmpne:
			taken = left.Int != right.Int
		case OpIfIcmplt:
			taken = left.Int < right.Int
		case OpIfIcmpge:
			taken = left.Int >= right.Int
		case OpIfIcmpgt:
			taken = left.Int > right.Int
		case OpIfIcmple:
			taken = left.Int <= right.Int
		}
		return branch16(taken)

	case OpIfAcmpeq, OpIfAcmpne:
		right, err := popRef()
		if err != nil {
			return stepResult{}, err
		}
		left, err := popRef()
		if err != nil {
			return stepResult{}, err
		}
		cmp, err := left.Cmp(right)
		if err != nil {
			return stepResult{}, err
		}
		taken := cmp.Int == 0
		if op == OpIfAcmpne {
			taken = !taken
		}
		return branch16(taken)

	case OpIfnull, OpIfnonnull:
		v, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		taken := v.IsNull() == (op == OpIfnull)
		return branch16(taken)

	case OpGoto:
		return branch16(true)

	case OpTableswitch:
		pad := switchPadding(pc)
		base := pc + 1 + pad
		def, err := operandI32(code.Code, base)
		if err != nil {
			return stepResult{}, err
		}
		low, err := operandI32(code.Code, base+4)
		if err != nil {
			return stepResult{}, err
		}
		high, err := operandI32(code.Code, base+8)
		if err != nil {
			return stepResult{}, err
		}
		index, err := popInt()
		if err != nil {
			return stepResult{}, err
		}
		if index.Int < low || index.Int > high {
			return stepResult{offset: int(def)}, nil
		}
		jump, err := operandI32(code.Code, base+12+4*int(index.Int-low))
		if err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: int(jump)}, nil

	case OpLookupswitch:
		pad := switchPadding(pc)
		base := pc + 1 + pad
		def, err := operandI32(code.Code, base)
		if err != nil {
			return stepResult{}, err
		}
		npairs, err := operandI32(code.Code, base+4)
		if err != nil {
			return stepResult{}, err
		}
		key, err := popInt()
		if err != nil {
			return stepResult{}, err
		}
		for i := int32(0); i < npairs; i++ {
			match, err := operandI32(code.Code, base+8+8*int(i))
			if err != nil {
				return stepResult{}, err
			}
			if match == key.Int {
				jump, err := operandI32(code.Code, base+12+8*int(i))
				if err != nil {
					return stepResult{}, err
				}
				return stepResult{offset: int(jump)}, nil
			}
		}
		return stepResult{offset: int(def)}, nil

	case OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn:
		v, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		switch op {
		case OpIreturn:
			v, err = v.AsInt()
		case OpLreturn:
			v, err = v.AsLong()
		case OpFreturn:
			v, err = v.AsFloat()
		case OpDreturn:
			v, err = v.AsDouble()
		case OpAreturn:
			v, err = v.AsReference()
		}
		if err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 1, ret: &v}, nil

	case OpReturn:
		v := VoidValue()
		return stepResult{offset: 1, ret: &v}, nil

	case OpGetstatic:
		index, err := operandU16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		ref, err := fieldRefAt(class, int(index))
		if err != nil {
			return stepResult{}, err
		}
		value, err := g.StaticField(ref)
		if err != nil {
			if errors.Is(err, ErrLinkage) {
				// The class was scheduled for loading; retry at the same
				// pc once initialization has run.
				return stepResult{offset: 0}, nil
			}
			return stepResult{}, err
		}
		f.push(value)
		return stepResult{offset: 3}, nil

	case OpPutstatic:
		index, err := operandU16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		ref, err := fieldRefAt(class, int(index))
		if err != nil {
			return stepResult{}, err
		}
		if _, err := g.ClassIndex(ref.Class); err != nil {
			loader, lerr := g.Loader()
			if lerr != nil {
				return stepResult{}, lerr
			}
			if _, lerr := loader.LoadClassName(ref.Class); lerr != nil {
				return stepResult{}, lerr
			}
			return stepResult{offset: 0}, nil
		}
		value, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		if err := g.SetStaticField(ref, value); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 3}, nil

	case OpGetfield:
		index, err := operandU16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		ref, err := fieldRefAt(class, int(index))
		if err != nil {
			return stepResult{}, err
		}
		objRef, err := popRef()
		if err != nil {
			return stepResult{}, err
		}
		obj, err := g.GetRef(objRef)
		if err != nil {
			return stepResult{}, err
		}
		value, ok := obj.Fields[ref.Name]
		if !ok {
			return stepResult{}, fmt.Errorf("%s.%s: %w", ref.Class, ref.Name, ErrNoSuchField)
		}
		f.push(value)
		return stepResult{offset: 3}, nil

	case OpPutfield:
		index, err := operandU16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		ref, err := fieldRefAt(class, int(index))
		if err != nil {
			return stepResult{}, err
		}
		value, err := pop()
		if err != nil {
			return stepResult{}, err
		}
		objRef, err := popRef()
		if err != nil {
			return stepResult{}, err
		}
		if err := g.SetField(objRef, ref.Name, value); err != nil {
			return stepResult{}, err
		}
		return stepResult{offset: 3}, nil

	case OpInvokevirtual, OpInvokespecial:
		index, err := operandU16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		ref, desc, err := methodRefAt(class, int(index))
		if err != nil {
			return stepResult{}, err
		}
		args, err := popArgs(f, desc)
		if err != nil {
			return stepResult{}, err
		}
		this, err := popRef()
		if err != nil {
			return stepResult{}, err
		}
		req := frameRequest{ref: ref, this: &this, args: args, virtual: op == OpInvokevirtual}
		return stepResult{offset: 3, frames: []frameRequest{req}}, nil

	case OpInvokestatic:
		index, err := operandU16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		ref, desc, err := methodRefAt(class, int(index))
		if err != nil {
			return stepResult{}, err
		}
		args, err := popArgs(f, desc)
		if err != nil {
			return stepResult{}, err
		}
		req := frameRequest{ref: ref, args: args}
		return stepResult{offset: 3, frames: []frameRequest{req}}, nil

	case OpInvokeinterface:
		index, err := operandU16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		// count and a reserved zero byte follow the index.
		if _, err := operandU8(code.Code, pc+3); err != nil {
			return stepResult{}, err
		}
		if _, err := operandU8(code.Code, pc+4); err != nil {
			return stepResult{}, err
		}
		ref, desc, err := methodRefAt(class, int(index))
		if err != nil {
			return stepResult{}, err
		}
		args, err := popArgs(f, desc)
		if err != nil {
			return stepResult{}, err
		}
		this, err := popRef()
		if err != nil {
			return stepResult{}, err
		}
		req := frameRequest{ref: ref, this: &this, args: args, virtual: true}
		return stepResult{offset: 5, frames: []frameRequest{req}}, nil

	case OpNew:
		index, err := operandU16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		constant, err := class.Constant(int(index))
		if err != nil {
			return stepResult{}, err
		}
		classConst, ok := constant.(classfile.ClassConst)
		if !ok {
			return stepResult{}, fmt.Errorf("new target at %d is not a class: %w", index, classfile.ErrConstantInvalid)
		}
		instance, err := g.NewInstance(classConst.Name)
		if err != nil {
			return stepResult{}, err
		}
		f.push(RefValue(instance))
		return stepResult{offset: 3}, nil

	case OpNewarray:
		atype, err := operandU8(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		elem, err := arrayTypeOf(atype)
		if err != nil {
			return stepResult{}, err
		}
		count, err := popInt()
		if err != nil {
			return stepResult{}, err
		}
		obj, err := NewEmptyArray(elem, int(count.Int))
		if err != nil {
			return stepResult{}, err
		}
		arrIndex, err := g.NewObject(obj)
		if err != nil {
			return stepResult{}, err
		}
		f.push(RefValue(arrIndex))
		return stepResult{offset: 2}, nil

	case OpAnewarray:
		index, err := operandU16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		constant, err := class.Constant(int(index))
		if err != nil {
			return stepResult{}, err
		}
		classConst, ok := constant.(classfile.ClassConst)
		if !ok {
			return stepResult{}, fmt.Errorf("anewarray target at %d is not a class: %w", index, classfile.ErrConstantInvalid)
		}
		elem, err := componentType(classConst.Name)
		if err != nil {
			return stepResult{}, err
		}
		elem.Dims++
		count, err := popInt()
		if err != nil {
			return stepResult{}, err
		}
		obj, err := NewEmptyArray(elem, int(count.Int))
		if err != nil {
			return stepResult{}, err
		}
		arrIndex, err := g.NewObject(obj)
		if err != nil {
			return stepResult{}, err
		}
		f.push(RefValue(arrIndex))
		return stepResult{offset: 3}, nil

	case OpMultianewarray:
		index, err := operandU16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		dims, err := operandU8(code.Code, pc+3)
		if err != nil {
			return stepResult{}, err
		}
		constant, err := class.Constant(int(index))
		if err != nil {
			return stepResult{}, err
		}
		classConst, ok := constant.(classfile.ClassConst)
		if !ok {
			return stepResult{}, fmt.Errorf("multianewarray target at %d is not a class: %w", index, classfile.ErrConstantInvalid)
		}
		arrType, err := componentType(classConst.Name)
		if err != nil {
			return stepResult{}, err
		}
		counts := make([]int, dims)
		for i := int(dims) - 1; i >= 0; i-- {
			count, err := popInt()
			if err != nil {
				return stepResult{}, err
			}
			counts[i] = int(count.Int)
		}
		ref, err := g.NewDeepArray(arrType, counts)
		if err != nil {
			return stepResult{}, err
		}
		f.push(ref)
		return stepResult{offset: 4}, nil

	case OpArraylength:
		arrRef, err := popRef()
		if err != nil {
			return stepResult{}, err
		}
		obj, err := g.GetRef(arrRef)
		if err != nil {
			return stepResult{}, err
		}
		arr, err := obj.Array()
		if err != nil {
			return stepResult{}, err
		}
		f.push(IntValue(int32(len(arr.Elements))))
		return stepResult{offset: 1}, nil

	case OpAthrow:
		v, err := popRef()
		if err != nil {
			return stepResult{}, err
		}
		if v.IsNull() {
			return stepResult{}, fmt.Errorf("athrow of null: %w", ErrNullPointer)
		}
		// The pc stays on the athrow so the handler search covers it.
		return stepResult{throw: &v}, nil

	case OpInstanceof, OpCheckcast:
		index, err := operandU16(code.Code, pc+1)
		if err != nil {
			return stepResult{}, err
		}
		constant, err := class.Constant(int(index))
		if err != nil {
			return stepResult{}, err
		}
		classConst, ok := constant.(classfile.ClassConst)
		if !ok {
			return stepResult{}, fmt.Errorf("type check target at %d is not a class: %w", index, classfile.ErrConstantInvalid)
		}
		target, err := componentType(classConst.Name)
		if err != nil {
			return stepResult{}, err
		}
		v, err := popRef()
		if err != nil {
			return stepResult{}, err
		}
		matches, err := instanceOf(g, v, target)
		if err != nil {
			return stepResult{}, err
		}
		if op == OpInstanceof {
			if matches {
				f.push(IntValue(1))
			} else {
				f.push(IntValue(0))
			}
			return stepResult{offset: 3}, nil
		}
		// checkcast preserves the reference; null always passes.
		if v.IsNull() || matches {
			f.push(v)
			return stepResult{offset: 3}, nil
		}
		return stepResult{}, fmt.Errorf("cannot cast to %s: %w", classConst.Name, ErrClassCast)

	case OpInvokedynamic, OpMonitorenter, OpMonitorexit, OpWide, OpJsr, OpRet,
		OpGotoW, OpJsrW, OpBreakpoint, OpImpdep1, OpImpdep2:
		return stepResult{}, fmt.Errorf("opcode %s: %w", OpcodeName(op), ErrUnsupportedOperation)

	default:
		return stepResult{}, fmt.Errorf("opcode 0x%02X at pc=%d: %w", op, pc, ErrUnsupportedOperation)
	}
}

// shiftLong handles the long shifts, whose shift count is an int on the
// stack.
func shiftLong(f *Frame, apply func(Value, Value) (Value, error)) (stepResult, error) {
	count, err := f.pop()
	if err != nil {
		return stepResult{}, err
	}
	count, err = count.AsLong()
	if err != nil {
		return stepResult{}, err
	}
	v, err := f.pop()
	if err != nil {
		return stepResult{}, err
	}
	v, err = v.AsLong()
	if err != nil {
		return stepResult{}, err
	}
	result, err := apply(v, count)
	if err != nil {
		return stepResult{}, err
	}
	f.push(result)
	return stepResult{offset: 1}, nil
}

// pushLocal loads a local slot, converted for the load family it serves.
func pushLocal(f *Frame, index int, family byte) error {
	v, err := localAt(f, index)
	if err != nil {
		return err
	}
	switch family {
	case OpIload:
		v, err = v.AsInt()
	case OpLload:
		v, err = v.AsLong()
	case OpFload:
		v, err = v.AsFloat()
	case OpDload:
		v, err = v.AsDouble()
	case OpAload:
		v, err = v.AsReference()
	}
	if err != nil {
		return err
	}
	f.push(v)
	return nil
}

func storeImplicit(f *Frame, index int) (stepResult, error) {
	v, err := f.pop()
	if err != nil {
		return stepResult{}, err
	}
	if err := setLocal(f, index, v); err != nil {
		return stepResult{}, err
	}
	return stepResult{offset: 1}, nil
}

// pushConstant materializes a constant pool entry onto the operand stack.
// String literals become fresh java/lang/String instances; class literals
// resolve to the class object.
func pushConstant(g *Global, f *Frame, class *classfile.Class, index int, wide bool) error {
	constant, err := class.Constant(index)
	if err != nil {
		return err
	}
	switch c := constant.(type) {
	case classfile.IntegerConst:
		f.push(IntValue(c.Value))
	case classfile.FloatConst:
		f.push(FloatValue(c.Value))
	case classfile.LongConst:
		if !wide {
			return fmt.Errorf("ldc of long at %d: %w", index, classfile.ErrConstantInvalid)
		}
		f.push(LongValue(c.Value))
	case classfile.DoubleConst:
		if !wide {
			return fmt.Errorf("ldc of double at %d: %w", index, classfile.ErrConstantInvalid)
		}
		f.push(DoubleValue(c.Value))
	case classfile.StringConst:
		stringIndex, err := g.NewJavaString(c.Value)
		if err != nil {
			return err
		}
		f.push(RefValue(stringIndex))
	case classfile.ClassConst:
		classIndex, err := g.EnsureClass(c.Name)
		if err != nil {
			return err
		}
		f.push(RefValue(classIndex))
	default:
		return fmt.Errorf("ldc of tag %d at %d: %w", constant.Tag(), index, classfile.ErrConstantInvalid)
	}
	return nil
}

func fieldRefAt(class *classfile.Class, index int) (classfile.FieldRef, error) {
	constant, err := class.Constant(index)
	if err != nil {
		return classfile.FieldRef{}, err
	}
	fieldRef, ok := constant.(classfile.FieldRefConst)
	if !ok {
		return classfile.FieldRef{}, fmt.Errorf("constant %d is not a field ref: %w", index, classfile.ErrConstantInvalid)
	}
	return fieldRef.Ref, nil
}

func methodRefAt(class *classfile.Class, index int) (classfile.MethodRef, *classfile.Descriptor, error) {
	constant, err := class.Constant(index)
	if err != nil {
		return classfile.MethodRef{}, nil, err
	}
	switch c := constant.(type) {
	case classfile.MethodRefConst:
		return c.Ref, c.Desc, nil
	case classfile.InterfaceMethodRefConst:
		return c.Ref, c.Desc, nil
	default:
		return classfile.MethodRef{}, nil, fmt.Errorf("constant %d is not a method ref: %w", index, classfile.ErrConstantInvalid)
	}
}

// newarray atype codes.
var newarrayTypes = map[byte]classfile.BaseKind{
	4:  classfile.KindBoolean,
	5:  classfile.KindChar,
	6:  classfile.KindFloat,
	7:  classfile.KindDouble,
	8:  classfile.KindByte,
	9:  classfile.KindShort,
	10: classfile.KindInt,
	11: classfile.KindLong,
}

func arrayTypeOf(atype byte) (classfile.Type, error) {
	kind, ok := newarrayTypes[atype]
	if !ok {
		return classfile.Type{}, fmt.Errorf("newarray type %d: %w", atype, ErrIllegalArgument)
	}
	t := classfile.SingleType(kind)
	t.Dims = 1
	return t, nil
}

// componentType reads a class operand of anewarray, multianewarray,
// instanceof or checkcast, which is either a plain class name or an array
// descriptor.
func componentType(name string) (classfile.Type, error) {
	if !strings.HasPrefix(name, "[") {
		return classfile.ObjectType(name), nil
	}
	desc, err := classfile.ParseDescriptor(name)
	if err != nil {
		return classfile.Type{}, err
	}
	return desc.Return, nil
}

// instanceOf walks the object's class chain (and interfaces) for a match
// with the target type; array targets match array shapes by element kind,
// dimension count and, for object elements, the element's class chain.
func instanceOf(g *Global, v Value, target classfile.Type) (bool, error) {
	if v.IsNull() {
		return false, nil
	}
	obj, err := g.GetRef(v)
	if err != nil {
		return false, err
	}

	if arr, ok := obj.Inner.(*ArrayInner); ok {
		if target.Dims == 0 {
			// Arrays are instances of Object only.
			return target.Kind == classfile.KindObject && target.Name == JavaObject, nil
		}
		if arr.Type.Dims != target.Dims || arr.Type.Kind != target.Kind {
			return false, nil
		}
		if target.Kind == classfile.KindObject {
			return g.IsSubclassOf(arr.Type.Name, target.Name), nil
		}
		return true, nil
	}

	if target.Dims > 0 || target.Kind != classfile.KindObject {
		return false, nil
	}
	if obj.Class == NoClass {
		return false, nil
	}
	class, err := g.ClassAt(obj.Class)
	if err != nil {
		return false, err
	}
	return g.IsSubclassOf(class.Class.ThisClass, target.Name), nil
}
