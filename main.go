package main

import "yarn-agent/cmd"

func main() {
	cmd.Execute()
}
