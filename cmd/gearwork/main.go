// Command gearwork is the CLI front end for the Gearwork toolkit: it
// assembles text programs, runs them (directly from source or from a
// compiled image), and disassembles compiled images back to text.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kristofer/gearwork/pkg/asm"
	"github.com/kristofer/gearwork/pkg/disasm"
	"github.com/kristofer/gearwork/pkg/loader"
	"github.com/kristofer/gearwork/pkg/vm"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		runREPL()
		return
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		fmt.Printf("gearwork version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "repl":
		runREPL()
	case "run":
		if len(os.Args) < 3 {
			fmt.Println("Error: no file specified")
			printUsage()
			os.Exit(1)
		}
		runFile(os.Args[2])
	case "assemble", "asm":
		if len(os.Args) < 3 {
			fmt.Println("Error: no file specified")
			fmt.Println("\nUsage: gearwork assemble <input.gwa> [output.gw]")
			os.Exit(1)
		}
		inputFile := os.Args[2]
		outputFile := ""
		if len(os.Args) >= 4 {
			outputFile = os.Args[3]
		}
		assembleFile(inputFile, outputFile)
	case "disassemble", "disasm":
		if len(os.Args) < 3 {
			fmt.Println("Error: no file specified")
			fmt.Println("\nUsage: gearwork disassemble <file.gw>")
			os.Exit(1)
		}
		disassembleFile(os.Args[2])
	default:
		runFile(os.Args[1])
	}
}

func printUsage() {
	fmt.Println("gearwork - a small stack-based bytecode toolkit")
	fmt.Println("\nUsage:")
	fmt.Println("  gearwork                        Start interactive REPL")
	fmt.Println("  gearwork [file]                  Run a .gwa or .gw file")
	fmt.Println("  gearwork run [file]              Run a .gwa or .gw file")
	fmt.Println("  gearwork assemble <in> [out]     Assemble .gwa to .gw bytecode")
	fmt.Println("  gearwork disassemble <file>      Disassemble a .gw bytecode file")
	fmt.Println("  gearwork repl                    Start interactive REPL")
	fmt.Println("  gearwork version                 Show version")
	fmt.Println("  gearwork help                    Show this help")
	fmt.Println("\nFile Extensions:")
	fmt.Println("  .gwa   Assembly source files (text)")
	fmt.Println("  .gw    Compiled bytecode images (binary)")
}

// runFile runs a .gwa source file or a .gw compiled image, chosen by
// extension: assembling from text is slower than loading an image
// directly, so pre-assembling hot programs to .gw is worthwhile.
func runFile(filename string) {
	if filepath.Ext(filename) == ".gw" {
		runImageFile(filename)
		return
	}
	runSourceFile(filename)
}

func runSourceFile(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	raw, err := asm.Assemble(string(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Assemble error: %v\n", err)
		os.Exit(1)
	}

	img, err := loader.Load(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		os.Exit(1)
	}

	if err := vm.New(img).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Runtime error: %v\n", err)
		os.Exit(1)
	}
}

func runImageFile(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	img, err := loader.Load(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bytecode: %v\n", err)
		os.Exit(1)
	}

	if err := vm.New(img).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Runtime error: %v\n", err)
		os.Exit(1)
	}
}

// assembleFile assembles a .gwa source file to a .gw bytecode image.
func assembleFile(inputFile, outputFile string) {
	if outputFile == "" {
		if filepath.Ext(inputFile) == ".gwa" {
			outputFile = inputFile[:len(inputFile)-4] + ".gw"
		} else {
			outputFile = inputFile + ".gw"
		}
	}

	data, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	raw, err := asm.Assemble(string(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Assemble error: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outputFile, raw, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Assembled %s -> %s\n", inputFile, outputFile)
}

// disassembleFile prints a human-readable listing of a .gw bytecode
// image: its constant pool followed by its instruction stream.
func disassembleFile(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	img, err := loader.Load(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bytecode: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Bytecode Disassembly: %s ===\n\n", filename)
	if err := disasm.Disassemble(os.Stdout, img); err != nil {
		fmt.Fprintf(os.Stderr, "Error disassembling: %v\n", err)
		os.Exit(1)
	}
}

// runREPL reads assembly source a blank-line-terminated block at a
// time, assembling and running each block against a fresh VM. There is
// no persistent compiler/VM state carried between inputs: each
// Gearwork program is self-contained, so a block is simply assembled
// and executed on its own.
func runREPL() {
	fmt.Printf("gearwork REPL v%s\n", version)
	fmt.Println("Enter assembly lines, blank line to run, ':quit' to exit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	var block strings.Builder

	for {
		if block.Len() == 0 {
			fmt.Print("gearwork> ")
		} else {
			fmt.Print("....... > ")
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if block.Len() == 0 {
			switch strings.TrimSpace(line) {
			case ":quit", ":exit":
				fmt.Println("Goodbye!")
				return
			case ":help":
				printREPLHelp()
				continue
			case "":
				continue
			}
		}

		if strings.TrimSpace(line) == "" {
			evalREPL(block.String())
			block.Reset()
			continue
		}

		block.WriteString(line)
		block.WriteString("\n")
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}

func evalREPL(source string) {
	raw, err := asm.Assemble(source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Assemble error: %v\n", err)
		return
	}
	img, err := loader.Load(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return
	}
	if err := vm.New(img).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Runtime error: %v\n", err)
	}
}

func printREPLHelp() {
	fmt.Println("gearwork REPL Help")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  :help     Show this help message")
	fmt.Println("  :quit     Exit the REPL")
	fmt.Println("  :exit     Exit the REPL")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  - Enter one Gearwork assembly instruction per line")
	fmt.Println("  - A blank line assembles and runs everything entered so far")
	fmt.Println("  - Each block runs against a fresh VM; nothing persists between blocks")
	fmt.Println()
	fmt.Println("Example:")
	fmt.Println("  gearwork> ldc int 3")
	fmt.Println("  ....... > ldc int 4")
	fmt.Println("  ....... > add")
	fmt.Println("  ....... > dump")
	fmt.Println("  ....... > ")
	fmt.Println("  7")
	fmt.Println()
}
