package main

import "github.com/sydlexius/coremonitor/cmd/hookscan/cmd"

func main() {
	cmd.Execute()
}
