package main

import (
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli"

	"evoting-core/keyvault"
)

func actionMasterKeyGen(c *cli.Context) error {
	key := make([]byte, keyvault.MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hexutil.Encode(key))
	return nil
}
