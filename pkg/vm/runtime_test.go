package vm

import (
	"github.com/cafebabe-vm/cafebabe/internal/classgen"
	"github.com/cafebabe-vm/cafebabe/pkg/classpath"
)

// testRuntime builds the minimal runtime class library the boot sequence
// and the scenario tests need: the boot classes plus String, Native and
// the throwable hierarchy.
func testRuntime() classpath.MapProvider {
	provider := classpath.MapProvider{}

	object := classgen.New("java/lang/Object", "")
	object.DefaultInit()
	provider["java/lang/Object"] = object.Bytes()

	for _, name := range []string{
		"java/lang/Class",
		"java/lang/Loader",
		"java/lang/Thread",
		"java/lang/Native",
		"java/lang/String",
	} {
		b := classgen.New(name, "java/lang/Object")
		b.DefaultInit()
		provider[name] = b.Bytes()
	}

	// Throwable carries the message; its subclasses chain to it.
	throwable := classgen.New("java/lang/Throwable", "java/lang/Object")
	throwable.AddField(classgen.AccPublic, "message", "Ljava/lang/String;")
	throwable.DefaultInit()
	objectInit := throwable.MethodRef("java/lang/Object", "<init>", "()V")
	messageRef := throwable.FieldRef("java/lang/Throwable", "message", "Ljava/lang/String;")
	throwable.AddMethod(classgen.Method{
		Flags: classgen.AccPublic, Name: "<init>", Desc: "(Ljava/lang/String;)V",
		MaxStack: 2, MaxLocals: 2,
		Code: []byte{
			0x2A,                                       // aload_0
			0xB7, byte(objectInit >> 8), byte(objectInit), // invokespecial Object.<init>
			0x2A,       // aload_0
			0x2B,       // aload_1
			0xB5, byte(messageRef >> 8), byte(messageRef), // putfield message
			0xB1, // return
		},
	})
	provider["java/lang/Throwable"] = throwable.Bytes()

	for _, name := range []string{
		"java/lang/RuntimeException",
		"java/lang/ArithmeticException",
		"java/lang/NullPointerException",
		"java/lang/ArrayIndexOutOfBoundsException",
	} {
		b := classgen.New(name, "java/lang/Throwable")
		b.DefaultInit()
		superInit := b.MethodRef("java/lang/Throwable", "<init>", "(Ljava/lang/String;)V")
		b.AddMethod(classgen.Method{
			Flags: classgen.AccPublic, Name: "<init>", Desc: "(Ljava/lang/String;)V",
			MaxStack: 2, MaxLocals: 2,
			Code: []byte{
				0x2A, // aload_0
				0x2B, // aload_1
				0xB7, byte(superInit >> 8), byte(superInit), // invokespecial super.<init>(String)
				0xB1, // return
			},
		})
		provider[name] = b.Bytes()
	}

	return provider
}

// bootedVM builds a VM over the test runtime plus extra classes, with the
// named main class.
func bootedVM(mainClass string, extra map[string][]byte, natives ...RegisterFn) (*VM, error) {
	provider := testRuntime()
	for name, data := range extra {
		provider[name] = data
	}

	machine := New()
	machine.MainClass = mainClass
	machine.LoadProvider(provider)
	for _, fn := range natives {
		machine.RegisterNative(fn)
	}
	if err := machine.Boot(); err != nil {
		return nil, err
	}
	return machine, nil
}
