package main

import "github.com/OpenTraceLab/picoblaster/cmd/blaster/cmd"

func main() {
	cmd.Execute()
}
