package main

import (
	"fmt"
	"os"
)

var Version = "dev"

func main() {
	if err := newRootCmd(InitializeOperator).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
