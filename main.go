package main

import (
	"github.com/eigenwatch/oprisk/cmd"
)

func main() {
	cmd.Execute()
}
