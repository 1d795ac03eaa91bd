// Command apifuzz generates and measures C/C++ library API programs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/apifuzz/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
