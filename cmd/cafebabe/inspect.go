package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/cafebabe-vm/cafebabe/pkg/classfile"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4682B4"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	nameStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#228B22"))
	flagStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8800"))
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.class>",
	Short: "Decode and print a class file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		class, err := classfile.Parse(data)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}
		printClass(class)
		return nil
	},
}

func printClass(c *classfile.Class) {
	fmt.Println(titleStyle.Render("class ") + nameStyle.Render(c.ThisClass))
	if c.SuperClass != "" {
		fmt.Println(mutedStyle.Render("  extends ") + c.SuperClass)
	}
	for _, iface := range c.Interfaces {
		fmt.Println(mutedStyle.Render("  implements ") + iface)
	}
	fmt.Printf("%s %d.%d\n", mutedStyle.Render("  version"), c.MajorVersion, c.MinorVersion)
	fmt.Printf("%s %s\n", mutedStyle.Render("  flags"), flagStyle.Render(strings.Join(c.AccessFlags.Names(), " ")))

	fmt.Println(titleStyle.Render("constant pool"))
	for i, constant := range c.ConstantPool {
		if i == 0 {
			continue
		}
		if _, ok := constant.(classfile.EmptyConst); ok {
			continue
		}
		fmt.Printf("  %s %s\n", mutedStyle.Render(fmt.Sprintf("#%-3d", i)), describeConstant(constant))
	}

	if len(c.Fields) > 0 {
		fmt.Println(titleStyle.Render("fields"))
		for i := range c.Fields {
			f := &c.Fields[i]
			fmt.Printf("  %s %s %s\n",
				flagStyle.Render(strings.Join(f.AccessFlags.Names(), " ")),
				nameStyle.Render(f.Name), mutedStyle.Render(f.Descriptor))
		}
	}

	fmt.Println(titleStyle.Render("methods"))
	for i := range c.Methods {
		m := &c.Methods[i]
		fmt.Printf("  %s %s%s\n",
			flagStyle.Render(strings.Join(m.AccessFlags.Names(), " ")),
			nameStyle.Render(m.Name), mutedStyle.Render(m.Descriptor))
		if code := m.Code(); code != nil {
			fmt.Printf("    %s stack=%d locals=%d code=%dB handlers=%d\n",
				mutedStyle.Render("Code"), code.MaxStack, code.MaxLocals,
				len(code.Code), len(code.ExceptionTable))
		}
	}
}

func describeConstant(c classfile.Constant) string {
	switch v := c.(type) {
	case classfile.Utf8Const:
		return fmt.Sprintf("Utf8 %q", v.Value)
	case classfile.IntegerConst:
		return fmt.Sprintf("Integer %d", v.Value)
	case classfile.FloatConst:
		return fmt.Sprintf("Float %v", v.Value)
	case classfile.LongConst:
		return fmt.Sprintf("Long %d", v.Value)
	case classfile.DoubleConst:
		return fmt.Sprintf("Double %v", v.Value)
	case classfile.ClassConst:
		return "Class " + v.Name
	case classfile.StringConst:
		return fmt.Sprintf("String %q", v.Value)
	case classfile.FieldRefConst:
		return fmt.Sprintf("FieldRef %s.%s:%s", v.Ref.Class, v.Ref.Name, v.Ref.Descriptor)
	case classfile.MethodRefConst:
		return "MethodRef " + v.Ref.String()
	case classfile.InterfaceMethodRefConst:
		return "InterfaceMethodRef " + v.Ref.String()
	case classfile.NameAndTypeConst:
		return fmt.Sprintf("NameAndType %s:%s", v.Name, v.Descriptor)
	case classfile.MethodHandleConst:
		return fmt.Sprintf("MethodHandle kind=%d #%d", v.Kind, v.Index)
	case classfile.MethodTypeConst:
		return "MethodType " + v.Descriptor
	case classfile.InvokeDynamicConst:
		return fmt.Sprintf("InvokeDynamic #%d %s:%s", v.BootstrapIndex, v.Name, v.Descriptor)
	default:
		return fmt.Sprintf("tag %d", c.Tag())
	}
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
