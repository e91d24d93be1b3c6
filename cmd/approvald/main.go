// Command approvald serves the transaction approval API and runs
// maintenance tasks against its database.
package main

func main() {
	Execute()
}
