/*
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"log"
	"os"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/shreyes-7/AyurTrack-sub001/chaincode/herbaltrace"
)

func main() {
	chaincode, err := contractapi.NewChaincode(&herbaltrace.SmartContract{})
	if err != nil {
		log.Panicf("Error creating herbaltrace chaincode: %v", err)
	}
	chaincode.Info.Title = "herbaltrace"
	chaincode.Info.Version = "1.0"

	// Chaincode as a service when the peer connects to us.
	if addr := os.Getenv("CHAINCODE_SERVER_ADDRESS"); addr != "" {
		server := &shim.ChaincodeServer{
			CCID:     os.Getenv("CHAINCODE_ID"),
			Address:  addr,
			CC:       chaincode,
			TLSProps: shim.TLSProperties{Disabled: true},
		}
		if err := server.Start(); err != nil {
			log.Panicf("Error starting herbaltrace chaincode server: %v", err)
		}
		return
	}

	if err := chaincode.Start(); err != nil {
		log.Panicf("Error starting herbaltrace chaincode: %v", err)
	}
}
