package main

import "github.com/code-sleuth/ike-rag/cmd"

func main() {
	cmd.Execute()
}
