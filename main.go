package main

import "scanbatch/cmd"

func main() {
	cmd.Execute()
}
