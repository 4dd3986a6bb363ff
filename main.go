package main

import "backend_dooh/cmd"

func main() {
	cmd.Execute()
}
