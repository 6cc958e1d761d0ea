package main

import "github.com/MeKo-Tech/detmap/cmd/detmap/cmd"

func main() {
	cmd.Execute()
}
