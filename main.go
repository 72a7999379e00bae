package main

import "github.com/ngld/coffeetask/cmd"

func main() {
	cmd.Execute()
}
