package main

import "github.com/jsherman999/tailorboard/internal/cli"

func main() { cli.Main() }
