package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/cafebabe-vm/cafebabe/pkg/classpath"
	"github.com/cafebabe-vm/cafebabe/pkg/native"
	"github.com/cafebabe-vm/cafebabe/pkg/vm"
)

var (
	mainClass string
	traceDump bool
)

var runCmd = &cobra.Command{
	Use:   "run <jar-or-classpath>...",
	Short: "Run a program",
	Long: `Run boots the VM against the given jars and class directories and
executes the main method of the main class.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		machine := vm.New()
		machine.MainClass = mainClass

		for _, path := range args {
			if strings.HasSuffix(path, ".jar") {
				jar, err := classpath.NewJarProvider(path)
				if err != nil {
					return err
				}
				defer jar.Close()
				machine.LoadProvider(jar)
				log.Debug("registered jar provider", "path", path)
			} else {
				machine.LoadProvider(classpath.NewDirProvider(path))
				log.Debug("registered directory provider", "path", path)
			}
		}

		machine.RegisterNative(native.Register)
		machine.RegisterNative(native.NewStdio().Register)
		machine.RegisterNative(native.RegisterRandom)

		log.Debug("booting", "main", mainClass)
		if err := machine.Boot(); err != nil {
			return fmt.Errorf("boot: %w", err)
		}

		result, err := machine.Run()
		if err != nil {
			if traceDump {
				fmt.Print(machine.StackTrace())
				fmt.Print(machine.HeapTrace())
			}
			return err
		}

		if !result.IsVoid() {
			fmt.Println(result)
		}
		if traceDump {
			fmt.Print(machine.HeapTrace())
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&mainClass, "main", "m", vm.DefaultMainClass, "internal name of the main class")
	runCmd.Flags().BoolVar(&traceDump, "trace", false, "dump the heap trace, plus thread traces on failure")
	rootCmd.AddCommand(runCmd)
}
