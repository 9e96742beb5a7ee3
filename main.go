// The main package for the aether executable.
package main

import (
	"github.com/AI-static/Aether/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
