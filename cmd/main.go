// Package main is the tempglobe command line: the server, the synthetic
// data generator and small gRPC clients.
package main

func main() {
	Execute()
}
