// Package main is the entry point for the speechquota server and CLI.
package main

func main() {
	Execute()
}
