package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sheikh-saqib/banking-ledger/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(nil).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
