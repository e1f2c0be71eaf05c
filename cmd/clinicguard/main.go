// Command clinicguard runs the access-control gateway and its operator
// tooling.
package main

import "github.com/MrEthical07/clinicguard/cmd/clinicguard/cmd"

func main() {
	cmd.Execute()
}
