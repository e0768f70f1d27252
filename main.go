package main

import "github.com/VoxDroid/rarscan/cmd"

func main() {
	cmd.Execute()
}
