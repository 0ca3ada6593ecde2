package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "refscreen"}

	root.AddCommand(serveCMD(), processCMD(), migrateCMD())
	_ = root.Execute()
}
