package main

import "github.com/jmarten/ssvepd/cmd"

func main() {
	cmd.Execute()
}
