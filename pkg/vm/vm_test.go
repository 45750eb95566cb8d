package vm

import (
	"errors"
	"testing"

	"github.com/cafebabe-vm/cafebabe/internal/classgen"
)

func TestRunFibonacci(t *testing.T) {
	b := classgen.New("Fib", "java/lang/Object")
	fib := b.MethodRef("Fib", "fib", "(I)I")
	b.DefaultInit()
	b.AddMethod(classgen.Method{
		Flags: classgen.AccPublic | classgen.AccStatic, Name: "main", Desc: "()I",
		MaxStack: 2, MaxLocals: 1,
		Code: []byte{
			0x10, 10, // bipush 10
			0xB8, byte(fib >> 8), byte(fib), // invokestatic fib
			0xAC, // ireturn
		},
	})
	b.AddMethod(classgen.Method{
		Flags: classgen.AccPublic | classgen.AccStatic, Name: "fib", Desc: "(I)I",
		MaxStack: 3, MaxLocals: 1,
		Code: []byte{
			0x1A,             // iload_0
			0x05,             // iconst_2
			0xA2, 0x00, 0x05, // if_icmpge +5 → recurse
			0x1A, // iload_0
			0xAC, // ireturn
			0x1A, // iload_0
			0x04, // iconst_1
			0x64, // isub
			0xB8, byte(fib >> 8), byte(fib), // invokestatic fib
			0x1A, // iload_0
			0x05, // iconst_2
			0x64, // isub
			0xB8, byte(fib >> 8), byte(fib), // invokestatic fib
			0x60, // iadd
			0xAC, // ireturn
		},
	})

	machine, err := bootedVM("Fib", map[string][]byte{"Fib": b.Bytes()})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	result, err := machine.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != IntValue(55) {
		t.Errorf("fib(10): got %s, want Int(55)", result)
	}
}

func TestRunNativeStringEcho(t *testing.T) {
	sys := classgen.New("Sys", "java/lang/Object")
	sys.DefaultInit()
	sys.AddMethod(classgen.Method{
		Flags: classgen.AccPublic | classgen.AccStatic | classgen.AccNative,
		Name:  "print", Desc: "(Ljava/lang/String;)V",
	})

	b := classgen.New("Echo", "java/lang/Object")
	print := b.MethodRef("Sys", "print", "(Ljava/lang/String;)V")
	hello := b.StringConst("hello")
	b.DefaultInit()
	b.AddMethod(classgen.Method{
		Flags: classgen.AccPublic | classgen.AccStatic, Name: "main", Desc: "()V",
		MaxStack: 1, MaxLocals: 1,
		Code: []byte{
			0x12, byte(hello), // ldc "hello"
			0xB8, byte(print >> 8), byte(print), // invokestatic Sys.print
			0xB1, // return
		},
	})

	var buffer string
	register := func(n *NativeInterface) error {
		return n.Register(MethodRefFor("Sys", "print", "(Ljava/lang/String;)V"),
			func(env *NativeEnv) (Value, error) {
				raw, err := env.StringValue(env.Variables()[0])
				if err != nil {
					return Value{}, err
				}
				buffer += raw
				return VoidValue(), nil
			})
	}

	machine, err := bootedVM("Echo", map[string][]byte{
		"Echo": b.Bytes(),
		"Sys":  sys.Bytes(),
	}, register)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if _, err := machine.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if buffer != "hello" {
		t.Errorf("host buffer: got %q, want %q", buffer, "hello")
	}
}

// exceptionMain builds a main that throws RuntimeException("x"),
// optionally catching Throwable and returning 7.
func exceptionMain(withCatch bool) []byte {
	b := classgen.New("E", "java/lang/Object")
	runtimeEx := b.Class("java/lang/RuntimeException")
	initRef := b.MethodRef("java/lang/RuntimeException", "<init>", "(Ljava/lang/String;)V")
	message := b.StringConst("x")
	b.DefaultInit()

	code := []byte{
		0xBB, byte(runtimeEx >> 8), byte(runtimeEx), // new RuntimeException
		0x59,                // dup
		0x12, byte(message), // ldc "x"
		0xB7, byte(initRef >> 8), byte(initRef), // invokespecial <init>(String)
		0xBF, // athrow (pc 9)
		// handler (pc 10):
		0x4B,       // astore_0
		0x10, 7,    // bipush 7
		0xAC,       // ireturn
	}
	method := classgen.Method{
		Flags: classgen.AccPublic | classgen.AccStatic, Name: "main", Desc: "()I",
		MaxStack: 3, MaxLocals: 1,
		Code: code,
	}
	if withCatch {
		method.Handlers = []classgen.Handler{
			{Start: 0, End: 10, Handler: 10, CatchClass: "java/lang/Throwable"},
		}
	}
	b.AddMethod(method)
	return b.Bytes()
}

func TestRunExceptionCaught(t *testing.T) {
	machine, err := bootedVM("E", map[string][]byte{"E": exceptionMain(true)})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	result, err := machine.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != IntValue(7) {
		t.Errorf("caught exception: got %s, want Int(7)", result)
	}
}

func TestRunExceptionUncaught(t *testing.T) {
	machine, err := bootedVM("E", map[string][]byte{"E": exceptionMain(false)})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	_, err = machine.Run()
	var unhandled *UnhandledExceptionError
	if !errors.As(err, &unhandled) {
		t.Fatalf("Run: got %v, want UnhandledExceptionError", err)
	}
	if unhandled.ClassName != "java/lang/RuntimeException" {
		t.Errorf("class name: got %q, want java/lang/RuntimeException", unhandled.ClassName)
	}
	if unhandled.Message != "x" {
		t.Errorf("message: got %q, want %q", unhandled.Message, "x")
	}
}

func TestRunClassInitOrder(t *testing.T) {
	// A's <clinit> stores into B's static before A.main reads it back;
	// all <clinit> frames drain before any priority-0 frame runs.
	a := classgen.New("A", "java/lang/Object")
	bx := a.FieldRef("B", "x", "I")
	a.DefaultInit()
	a.AddMethod(classgen.Method{
		Flags: classgen.AccStatic, Name: "<clinit>", Desc: "()V",
		MaxStack: 1, MaxLocals: 0,
		Code: []byte{
			0x08, // iconst_5
			0xB3, byte(bx >> 8), byte(bx), // putstatic B.x
			0xB1, // return
		},
	})
	a.AddMethod(classgen.Method{
		Flags: classgen.AccPublic | classgen.AccStatic, Name: "main", Desc: "()I",
		MaxStack: 1, MaxLocals: 1,
		Code: []byte{
			0xB2, byte(bx >> 8), byte(bx), // getstatic B.x
			0xAC, // ireturn
		},
	})

	bb := classgen.New("B", "java/lang/Object")
	bb.AddField(classgen.AccPublic|classgen.AccStatic, "x", "I")
	bb.DefaultInit()

	machine, err := bootedVM("A", map[string][]byte{"A": a.Bytes(), "B": bb.Bytes()})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	result, err := machine.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// If main had run before A's <clinit> finished, B.x would still have
	// been unset.
	if result != IntValue(5) {
		t.Errorf("B.x: got %s, want Int(5)", result)
	}
}

func TestRunVirtualDispatch(t *testing.T) {
	animal := classgen.New("Animal", "java/lang/Object")
	aLit := animal.StringConst("a")
	animal.DefaultInit()
	animal.AddMethod(classgen.Method{
		Flags: classgen.AccPublic, Name: "speak", Desc: "()Ljava/lang/String;",
		MaxStack: 1, MaxLocals: 1,
		Code: []byte{0x12, byte(aLit), 0xB0}, // ldc "a", areturn
	})

	dog := classgen.New("Dog", "Animal")
	dLit := dog.StringConst("d")
	dog.DefaultInit()
	dog.AddMethod(classgen.Method{
		Flags: classgen.AccPublic, Name: "speak", Desc: "()Ljava/lang/String;",
		MaxStack: 1, MaxLocals: 1,
		Code: []byte{0x12, byte(dLit), 0xB0}, // ldc "d", areturn
	})

	main := classgen.New("Zoo", "java/lang/Object")
	dogClass := main.Class("Dog")
	dogInit := main.MethodRef("Dog", "<init>", "()V")
	speak := main.MethodRef("Animal", "speak", "()Ljava/lang/String;")
	main.DefaultInit()
	main.AddMethod(classgen.Method{
		Flags: classgen.AccPublic | classgen.AccStatic, Name: "main", Desc: "()Ljava/lang/String;",
		MaxStack: 2, MaxLocals: 1,
		Code: []byte{
			0xBB, byte(dogClass >> 8), byte(dogClass), // new Dog
			0x59, // dup
			0xB7, byte(dogInit >> 8), byte(dogInit), // invokespecial Dog.<init>
			0xB6, byte(speak >> 8), byte(speak), // invokevirtual Animal.speak
			0xB0, // areturn
		},
	})

	machine, err := bootedVM("Zoo", map[string][]byte{
		"Zoo":    main.Bytes(),
		"Animal": animal.Bytes(),
		"Dog":    dog.Bytes(),
	})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	result, err := machine.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	raw, err := machine.Global().StringValue(result)
	if err != nil {
		t.Fatalf("result %s is not a string: %v", result, err)
	}
	if raw != "d" {
		t.Errorf("speak(): got %q, want %q", raw, "d")
	}
}

func TestRunArithmeticCaught(t *testing.T) {
	// A divide by zero converts into java/lang/ArithmeticException and is
	// catchable like any Java throw.
	b := classgen.New("Div", "java/lang/Object")
	b.DefaultInit()
	b.AddMethod(classgen.Method{
		Flags: classgen.AccPublic | classgen.AccStatic, Name: "main", Desc: "()I",
		MaxStack: 2, MaxLocals: 1,
		Code: []byte{
			0x04, // iconst_1
			0x03, // iconst_0
			0x6C, // idiv (pc 2)
			0xAC, // ireturn
			// handler (pc 4):
			0x4B,    // astore_0
			0x10, 9, // bipush 9
			0xAC, // ireturn
		},
		Handlers: []classgen.Handler{
			{Start: 0, End: 4, Handler: 4, CatchClass: "java/lang/ArithmeticException"},
		},
	})

	machine, err := bootedVM("Div", map[string][]byte{"Div": b.Bytes()})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	result, err := machine.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != IntValue(9) {
		t.Errorf("caught arithmetic: got %s, want Int(9)", result)
	}
}

func TestRunSchedulerGateReturnsToZero(t *testing.T) {
	machine, err := bootedVM("Main", emptyMain())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if _, err := machine.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gate := machine.Global().Gate(); gate != 0 {
		t.Errorf("gate after run: got %d, want 0", gate)
	}
}
