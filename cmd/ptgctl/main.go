// Command ptgctl hosts a ptgrt runtime process: it parses topology and
// binding options, starts the context, and blocks until the operator
// stops it.
package main

import "github.com/ptgrt/ptgrt/cmd/ptgctl/cmd"

func main() {
	cmd.Execute()
}
