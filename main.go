/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/alpinegear/identity/cmd"

func main() {
	cmd.Execute()
}
