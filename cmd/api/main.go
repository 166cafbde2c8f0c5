package main

import "github.com/spec-kit/taskflow-auth/internal/cli"

func main() {
	cli.Execute()
}
