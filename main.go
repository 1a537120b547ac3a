package main

import "github.com/encodeous/flowsim/cmd"

func main() {
	cmd.Execute()
}
