package main

import (
	"fmt"
	"os"

	"github.com/inventra/ims-event-hub/cmd"
)

func main() {
	if err := cmd.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
