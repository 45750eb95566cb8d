package native

import (
	"math/rand"

	"github.com/cafebabe-vm/cafebabe/pkg/vm"
)

// RegisterRandom binds java/util/Random.nativeNextLong to the host's
// random source.
func RegisterRandom(n *vm.NativeInterface) error {
	return n.Register(vm.MethodRefFor("java/util/Random", "nativeNextLong", "()J"), randomLong)
}

func randomLong(env *vm.NativeEnv) (vm.Value, error) {
	value := rand.Int63()
	return vm.LongValue(value), nil
}
