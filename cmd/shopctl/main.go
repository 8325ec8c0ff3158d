package main

import (
	"fmt"
	"os"

	"github.com/imrishuroy/go-clothing-orderflow/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "shopctl:", err)
		os.Exit(1)
	}
}
