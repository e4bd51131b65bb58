package main

import "github.com/jmcleod/semigate/cmd/semigate/cmd"

func main() {
	cmd.Execute()
}
