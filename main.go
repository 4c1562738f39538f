// The main package for the newsingest executable.
package main

import (
	"github.com/ph-data-eng/newsingest/cmd"
)

func main() {
	cmd.Execute()
}
