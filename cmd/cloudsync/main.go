package main

import "github.com/dl-alexandre/cloudsync/internal/cli"

func main() {
	cli.Execute()
}
