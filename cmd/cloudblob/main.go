package main

import (
	"github.com/DrSkyle/cloudblob/cmd/cloudblob/commands"
)

func main() {
	commands.Execute()
}
