package main

import "github.com/aweris/wasmpkg/cmd/wasmpkg/cmd"

func main() {
	cmd.Execute()
}
