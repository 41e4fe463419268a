// cmd/mediascrapexter/version.go
package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "MediaScrapexter %s\n", version)
			fmt.Fprintf(a.stdout, "  Build time: %s\n", buildTime)
			fmt.Fprintf(a.stdout, "  Git commit: %s\n", gitCommit)
			fmt.Fprintf(a.stdout, "  Go version: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
