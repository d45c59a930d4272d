// runctl - training-job resource lifecycle and cleanup
package main

import (
	_ "github.com/arclabs561/runctl/providers/aws"
)

func main() {
	Execute()
}
