package main

import "github.com/goplus/dlibsys/cmd/dlibsys/internal"

func main() {
	internal.Execute()
}
