package vm

import (
	"fmt"
	"strings"

	"github.com/cafebabe-vm/cafebabe/pkg/classfile"
)

// maxFrameDepth is the maximum number of nested method calls per thread.
const maxFrameDepth = 1024

// Frame is the activation record of a single method invocation.
type Frame struct {
	pc           int
	methodRef    classfile.MethodRef
	locals       []Value
	stack        []Value
	throw        *Value
	throwEntries []classfile.ExceptionEntry
}

// PC returns the program counter.
func (f *Frame) PC() int { return f.pc }

// MethodRef returns the reference of the method the frame runs.
func (f *Frame) MethodRef() classfile.MethodRef { return f.methodRef }

// Locals returns the local variable slots.
func (f *Frame) Locals() []Value { return f.locals }

func (f *Frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *Frame) pop() (Value, error) {
	if len(f.stack) == 0 {
		return Value{}, fmt.Errorf("operand stack underflow: %w", ErrIllegalState)
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

// frameRequest is a frame the interpreter asked to push: a method
// reference, an optional receiver, and the argument vector.
type frameRequest struct {
	ref     classfile.MethodRef
	this    *Value
	args    []Value
	virtual bool
}

// TickState is the outcome of one thread tick.
type TickState int

const (
	// TickContinue means the thread did work, or yielded to the gate.
	TickContinue TickState = iota
	// TickStop means the thread has no frames left.
	TickStop
	// TickResult means the bottom frame returned a value.
	TickResult
)

// Thread owns a stack of frames and a scheduling priority. Each tick
// executes one opcode or one native call of the top frame.
type Thread struct {
	global   *Global
	frames   []*Frame
	priority int
}

// NewThread creates an empty thread with the given priority.
func NewThread(global *Global, priority int) *Thread {
	return &Thread{global: global, priority: priority}
}

// NewMainThread creates a priority-0 thread running the main method of the
// main class.
func NewMainThread(global *Global) (*Thread, error) {
	t := NewThread(global, 0)
	if err := t.newMainFrame(); err != nil {
		return nil, err
	}
	return t, nil
}

// Priority returns the thread's scheduling priority.
func (t *Thread) Priority() int { return t.priority }

// FrameCount returns the current call depth.
func (t *Thread) FrameCount() int { return len(t.frames) }

// Frames snapshots the frame stack, top first.
func (t *Thread) Frames() []*Frame {
	out := make([]*Frame, len(t.frames))
	for i := range t.frames {
		out[i] = t.frames[len(t.frames)-1-i]
	}
	return out
}

// buildFrame resolves a method reference into a runnable frame.
//
// Virtual calls (invokevirtual, invokeinterface) dispatch on the
// receiver's runtime class first, walking its super chain for the first
// native or Code-bearing declaration. Non-virtual calls (invokespecial,
// invokestatic, the init frames) bind through the declared class chain, so
// a super.<init> call cannot bounce back to the subclass.
func (t *Thread) buildFrame(req frameRequest) (*Frame, error) {
	ref := req.ref

	if req.virtual && req.this != nil {
		if req.this.IsNull() {
			return nil, fmt.Errorf("receiver was null calling %s: %w", ref, ErrNullPointer)
		}
		obj, err := t.global.GetRef(*req.this)
		if err != nil {
			return nil, err
		}
		if obj.Class != NoClass {
			class, err := t.global.ClassAt(obj.Class)
			if err != nil {
				return nil, err
			}
			if bound, ok := t.bindInChain(class.Class.ThisClass, ref); ok {
				ref = bound
			}
		}
	}

	ref, method, err := t.bindDeclared(ref, req.this)
	if err != nil {
		return nil, err
	}

	var maxLocals int
	native := method.AccessFlags.Has(classfile.AccNative)
	if native {
		maxLocals = len(method.Desc.Parameters) + 1
	} else {
		code := method.Code()
		if code == nil {
			return nil, fmt.Errorf("%s has no code: %w", ref, ErrNoSuchMethod)
		}
		maxLocals = int(code.MaxLocals)
	}

	locals := make([]Value, maxLocals)
	for i := range locals {
		locals[i] = NullValue()
	}

	slot := 0
	if req.this != nil {
		if slot < len(locals) {
			locals[slot] = *req.this
		}
		slot++
	}
	for i, arg := range req.args {
		if i < len(method.Desc.Parameters) {
			coerced, err := arg.Coerce(method.Desc.Parameters[i])
			if err != nil {
				return nil, fmt.Errorf("argument %d of %s: %w", i, ref, err)
			}
			arg = coerced
		}
		if slot < len(locals) {
			locals[slot] = arg
		}
		slot++
		// Long and double arguments occupy two local slots, except in a
		// native frame, whose locals are the plain argument vector.
		if arg.IsWide() && !native {
			slot++
		}
	}

	return &Frame{methodRef: ref, locals: locals}, nil
}

// bindInChain walks a class chain looking for a runnable declaration of
// the method; it returns the rebound reference when found.
func (t *Thread) bindInChain(className string, ref classfile.MethodRef) (classfile.MethodRef, bool) {
	current := className
	for current != "" {
		index, err := t.global.ClassIndex(current)
		if err != nil {
			return ref, false
		}
		class, err := t.global.ClassAt(index)
		if err != nil {
			return ref, false
		}
		method := class.Class.FindMethod(ref.Name, ref.Descriptor)
		if method != nil && !method.AccessFlags.Has(classfile.AccAbstract) &&
			(method.AccessFlags.Has(classfile.AccNative) || method.Code() != nil) {
			ref.Class = current
			return ref, true
		}
		current = class.Class.SuperClass
	}
	return ref, false
}

// bindDeclared resolves through the declared class chain, loading classes
// on demand.
func (t *Thread) bindDeclared(ref classfile.MethodRef, this *Value) (classfile.MethodRef, *classfile.Method, error) {
	current := ref.Class
	for current != "" {
		classIndex, err := t.global.EnsureClass(current)
		if err != nil {
			return ref, nil, err
		}
		class, err := t.global.ClassAt(classIndex)
		if err != nil {
			return ref, nil, err
		}

		method := class.Class.FindMethod(ref.Name, ref.Descriptor)
		if method != nil {
			if !method.AccessFlags.Has(classfile.AccStatic) {
				if this == nil || this.IsNull() {
					return ref, nil, fmt.Errorf("receiver was null calling %s: %w", ref, ErrNullPointer)
				}
			}
			if method.AccessFlags.Has(classfile.AccNative) || method.Code() != nil {
				ref.Class = current
				return ref, method, nil
			}
		}
		current = class.Class.SuperClass
	}
	return ref, nil, fmt.Errorf("%s: %w", ref, ErrNoSuchMethod)
}

// pushFrame builds and pushes a frame.
func (t *Thread) pushFrame(req frameRequest) error {
	if len(t.frames) >= maxFrameDepth {
		return fmt.Errorf("frame depth exceeded %d: %w", maxFrameDepth, ErrStackOverflow)
	}
	frame, err := t.buildFrame(req)
	if err != nil {
		return err
	}
	t.frames = append(t.frames, frame)
	return nil
}

// NewClinitFrame pushes a <clinit> frame for the class object at
// classIndex, if the class declares one.
func (t *Thread) NewClinitFrame(classIndex int) error {
	class, err := t.global.ClassAt(classIndex)
	if err != nil {
		return err
	}
	if class.Class.FindMethod("<clinit>", "()V") == nil {
		return nil
	}
	ref := classfile.MethodRef{Class: class.Class.ThisClass, Name: "<clinit>", Descriptor: "()V"}
	return t.pushFrame(frameRequest{ref: ref})
}

// NewDefaultInitFrame pushes the default <init> declared by the class at
// classIndex for the object at this. Unlike <clinit>, the frame is always
// pushed; resolution may land on a superclass constructor.
func (t *Thread) NewDefaultInitFrame(classIndex, this int) error {
	class, err := t.global.ClassAt(classIndex)
	if err != nil {
		return err
	}
	ref := classfile.MethodRef{Class: class.Class.ThisClass, Name: "<init>", Descriptor: "()V"}
	receiver := RefValue(this)
	return t.pushFrame(frameRequest{ref: ref, this: &receiver})
}

// newMainFrame pushes a static frame for the main method of the main
// class. Any method named main qualifies; the last declaration wins.
func (t *Thread) newMainFrame() error {
	classIndex, err := t.global.MainClassIndex()
	if err != nil {
		return err
	}
	class, err := t.global.ClassAt(classIndex)
	if err != nil {
		return err
	}
	mains := class.Class.MethodsNamed("main")
	if len(mains) == 0 {
		return fmt.Errorf("%s.main: %w", class.Class.ThisClass, ErrNoSuchMethod)
	}
	method := mains[len(mains)-1]
	return t.pushFrame(frameRequest{ref: method.Ref(class.Class.ThisClass)})
}

// Tick runs one opcode or one native call of the top frame. A thread whose
// priority is below the global gate yields without working.
func (t *Thread) Tick() (TickState, Value, error) {
	gate := t.global.Gate()
	if t.priority < gate {
		return TickContinue, Value{}, nil
	}

	if len(t.frames) == 0 {
		if gate > 0 && t.priority == gate {
			t.global.Unlock(t.priority)
		}
		return TickStop, Value{}, nil
	}

	frame := t.frames[len(t.frames)-1]

	classIndex, method, err := t.global.Method(frame.methodRef)
	if err != nil {
		return TickContinue, Value{}, err
	}
	class, err := t.global.ClassAt(classIndex)
	if err != nil {
		return TickContinue, Value{}, err
	}

	var outReturn *Value
	propagate := false

	if method.AccessFlags.Has(classfile.AccNative) {
		result, err := t.global.NativeInvoke(frame.methodRef, frame.locals)
		if err != nil {
			// Native frames have no exception table; a converted throw
			// propagates straight to the caller.
			state, value, terr := t.maybeThrow(frame, err)
			if frame.throw == nil {
				return state, value, terr
			}
			propagate = true
		} else {
			coerced, err := result.Coerce(method.Desc.Return)
			if err != nil {
				return TickContinue, Value{}, err
			}
			outReturn = &coerced
		}
	} else {
		code := method.Code()
		if code == nil {
			return TickContinue, Value{}, fmt.Errorf("%s has no code: %w", frame.methodRef, ErrNoSuchMethod)
		}

		if frame.throw != nil {
			entered, err := t.enterHandler(frame, class.Class, code)
			if err != nil {
				return TickContinue, Value{}, err
			}
			if entered {
				// Entering the handler consumes the tick.
				return TickContinue, Value{}, nil
			}
			propagate = true
		} else {
			res, err := step(t.global, frame, class.Class, code)
			if err != nil {
				return t.maybeThrow(frame, err)
			}

			if res.throw != nil {
				frame.throw = res.throw
				frame.throwEntries = nil
			} else {
				frame.pc += int(res.offset)
			}

			if res.ret != nil {
				coerced, err := res.ret.Coerce(method.Desc.Return)
				if err != nil {
					return TickContinue, Value{}, err
				}
				outReturn = &coerced
			}

			for _, req := range res.frames {
				if err := t.pushFrame(req); err != nil {
					// Rewind so the handler search still covers the
					// failing invoke instruction.
					frame.pc -= int(res.offset)
					return t.maybeThrow(frame, err)
				}
			}
		}
	}

	if outReturn != nil {
		t.frames = t.frames[:len(t.frames)-1]
		if len(t.frames) == 0 {
			return TickResult, *outReturn, nil
		}
		if !outReturn.IsVoid() {
			caller := t.frames[len(t.frames)-1]
			caller.push(*outReturn)
		}
	} else if propagate {
		throw := frame.throw
		t.frames = t.frames[:len(t.frames)-1]
		if len(t.frames) == 0 {
			return TickContinue, Value{}, t.unhandled(*throw)
		}
		caller := t.frames[len(t.frames)-1]
		caller.throw = throw
		caller.throwEntries = nil
	}

	return TickContinue, Value{}, nil
}

// maybeThrow converts a runtime guard into a Java throw on the current
// frame when the matching throwable class can be materialized; anything
// else bubbles to the driver.
func (t *Thread) maybeThrow(frame *Frame, cause error) (TickState, Value, error) {
	className, ok := throwableClassFor(cause)
	if !ok {
		return TickContinue, Value{}, cause
	}
	index, err := t.global.NewInstance(className)
	if err != nil {
		// No throwable class available; surface the raw guard.
		return TickContinue, Value{}, cause
	}
	obj, err := t.global.Get(index)
	if err != nil {
		return TickContinue, Value{}, err
	}
	if _, ok := obj.Fields["message"]; ok {
		messageRef, err := t.global.NewJavaString(cause.Error())
		if err == nil {
			obj.Fields["message"] = RefValue(messageRef)
		}
	}
	throw := RefValue(index)
	frame.throw = &throw
	frame.throwEntries = nil
	return TickContinue, Value{}, nil
}

// enterHandler matches the frame's pending throw against the method's
// exception table. Entries whose [start_pc, end_pc) range covers the
// current pc and whose catch type is zero or a class of the thrown
// object's chain are collected in declaration order and stored reversed;
// the last stored entry — the first declared — is entered: the operand
// stack is cleared, the throwable pushed, and the throw marked handled.
func (t *Thread) enterHandler(frame *Frame, class *classfile.Class, code *classfile.CodeAttr) (bool, error) {
	throwVal := *frame.throw

	obj, err := t.global.GetRef(throwVal)
	if err != nil {
		return false, err
	}
	thrownNames := make(map[string]bool)
	if obj.Class != NoClass {
		classInner, err := t.global.ClassAt(obj.Class)
		if err != nil {
			return false, err
		}
		name := classInner.Class.ThisClass
		for name != "" {
			thrownNames[name] = true
			index, err := t.global.ClassIndex(name)
			if err != nil {
				break
			}
			inner, err := t.global.ClassAt(index)
			if err != nil {
				break
			}
			name = inner.Class.SuperClass
		}
	}

	var matched []classfile.ExceptionEntry
	for _, entry := range code.ExceptionTable {
		if frame.pc < int(entry.StartPC) || frame.pc >= int(entry.EndPC) {
			continue
		}
		if entry.CatchType == 0 {
			matched = append(matched, entry)
			continue
		}
		constant, err := class.Constant(int(entry.CatchType))
		if err != nil {
			return false, err
		}
		catch, ok := constant.(classfile.ClassConst)
		if !ok {
			return false, fmt.Errorf("catch type %d is not a class: %w", entry.CatchType, classfile.ErrConstantInvalid)
		}
		if thrownNames[catch.Name] {
			matched = append(matched, entry)
		}
	}

	if len(matched) == 0 {
		return false, nil
	}

	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	entry := matched[len(matched)-1]
	frame.throwEntries = matched[:len(matched)-1]

	frame.pc = int(entry.HandlerPC)
	frame.stack = frame.stack[:0]
	frame.push(throwVal)
	frame.throw = nil
	return true, nil
}

// unhandled wraps a throw that escaped the bottom frame.
func (t *Thread) unhandled(throw Value) error {
	err := &UnhandledExceptionError{}
	obj, derr := t.global.GetRef(throw)
	if derr != nil {
		return fmt.Errorf("unhandled exception with unreadable throwable: %w", derr)
	}
	err.Ref = throw.Ref
	if obj.Class != NoClass {
		if class, cerr := t.global.ClassAt(obj.Class); cerr == nil {
			err.ClassName = class.Class.ThisClass
		}
	}
	if message, ok := obj.Fields["message"]; ok && message.Kind == KindReference {
		if raw, serr := t.global.StringValue(message); serr == nil {
			err.Message = raw
		}
	}
	return err
}

// StackTrace renders the thread's frames, top first, with the next opcode
// of the top frame.
func (t *Thread) StackTrace() string {
	if len(t.frames) == 0 {
		return "===== Thread (Empty) =====\n"
	}

	frame := t.frames[len(t.frames)-1]
	head := "Invalid"
	if _, method, err := t.global.Method(frame.methodRef); err == nil {
		switch {
		case method.AccessFlags.Has(classfile.AccNative):
			head = "Native"
		case method.Code() != nil && frame.pc < len(method.Code().Code):
			head = "OpCode: " + OpcodeName(method.Code().Code[frame.pc])
		default:
			head = "End"
		}
	}

	var b strings.Builder
	b.WriteString("===== Thread =====\n")
	b.WriteString(head)
	b.WriteString("\n")
	for i := len(t.frames) - 1; i >= 0; i-- {
		f := t.frames[i]
		fmt.Fprintf(&b, "%s pc=%d stack=%d locals=%d\n", f.methodRef, f.pc, len(f.stack), len(f.locals))
	}
	b.WriteString("================\n")
	return b.String()
}
