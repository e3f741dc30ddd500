package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "detect":
		err = cmdDetect(os.Args[2:])
	case "unflatten":
		err = cmdUnflatten(os.Args[2:])
	case "lift":
		err = cmdLift(os.Args[2:])
	case "flatten":
		err = cmdFlatten(os.Args[2:])
	case "render":
		err = cmdRender(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `unflat: control-flow flattening remover

Usage:
  unflat detect    --in <jsonl>                    List dispatcher regions
  unflat unflatten --in <jsonl> --out <dir>         Unflatten every function
  unflat lift      --elf <path> --sym <names> --out <dir>  Lift ARM64 functions to JSONL
  unflat flatten   --in <jsonl> --out <file>        Flatten functions (test fixtures)
  unflat render    --in <jsonl> --out <dir>         Per-function CFGs and call graph

Flags:
  --config <file>    YAML engine configuration
  --strict           Fail on the first per-function error
  --jobs <n>         Functions processed in parallel
  --verbose          Debug logging
`)
}
