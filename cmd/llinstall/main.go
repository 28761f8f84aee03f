package main

import "github.com/goplus/llinstall/cmd/llinstall/internal"

func main() {
	internal.Execute()
}
