package main

import "github.com/nfrund/backplane/cmd/backplane/cmd"

func main() {
	cmd.Execute()
}
