package main

import "github.com/jsherman999/tailorboard/internal/daemon"

func main() { daemon.Main() }
