package main

import (
	"novelarr/cmd"
)

func main() {
	cmd.Execute()
}
