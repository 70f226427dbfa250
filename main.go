package main

import (
	"fmt"

	"fileclient/cmd"
)

var (
	version    = "<unknown>"
	buildTime  = "<unknown>"
	commitHash = "<unknown>"
)

func main() {
	cmd.Execute(fmt.Sprintf("%s\nbuilt: %s\ncommit: %s", version, buildTime, commitHash))
}
