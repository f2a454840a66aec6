// Package main provides the entry point for the recyclix CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/recyclix/cmd/recyclix/cmd"
	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if ierrors.GetCode(err) != "" {
			fmt.Fprint(os.Stderr, ierrors.FormatForCLI(err))
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
