package main

import "github.com/qbloq/agentico/cmd"

func main() {
	cmd.Execute()
}
