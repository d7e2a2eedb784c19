package main

import "t2count/host/cmd/t2count-host/cmd"

func main() {
	cmd.Execute()
}
