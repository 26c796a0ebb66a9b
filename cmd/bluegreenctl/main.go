package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	bgerr "github.com/fluxcd/ecs-bluegreen/pkg/errors"
)

func main() {
	rootCmd := newRoot().Command()
	cmd, err := rootCmd.ExecuteC()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	var apiErr *bgerr.Error
	switch {
	case isUsageError(err):
		cmd.Println("")
		cmd.Println(cmd.UsageString())
		os.Exit(2)
	case errors.As(err, &apiErr) && apiErr.Help != "":
		cmd.Println("== Error ==\n\n" + apiErr.Help)
	}
	os.Exit(1)
}
