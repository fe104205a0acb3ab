// Command rosterd keeps a contact store in step with instant-messaging
// account rosters.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/rosterd/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "rosterd:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
