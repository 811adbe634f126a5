package main

import (
	"github.com/jorjiiie/2f2f/cmd"
)

func main() {
	cmd.Execute()
}
