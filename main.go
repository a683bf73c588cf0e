// popdeploy deploys a compiled contract artifact to a Boba network.
//
// It loads the artifact, signs a contract-creation transaction with the
// network's configured credential and waits for the contract to confirm.
package main

import "github.com/Bidon15/popdeploy/cmd"

func main() {
	cmd.Execute()
}
