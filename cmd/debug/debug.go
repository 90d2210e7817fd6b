// Package debug holds offline tools for inspecting messenger payloads and addresses.
package debug

import (
	"fmt"

	"github.com/certusone/wormhole/messenger/pkg/common"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var DebugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debugging utilities",
}

var (
	envStr    *string
	programID *string
)

// programFlags are shared by the commands that derive addresses.
func programFlags() *pflag.FlagSet {
	pf := pflag.NewFlagSet("programs", pflag.ContinueOnError)
	envStr = pf.String("env", "mainnet", "environment whose program ids are used (devnet, testnet, mainnet)")
	programID = pf.String("programID", "", "Messenger program id (optional, overrides default for environment)")
	return pf
}

func programs() (common.ProgramAddresses, error) {
	env, err := common.ParseEnvironment(*envStr)
	if err != nil {
		return common.ProgramAddresses{}, err
	}
	p := common.GetProgramAddresses(env)
	if *programID != "" {
		if p.Messenger, err = solana.PublicKeyFromBase58(*programID); err != nil {
			return p, fmt.Errorf("--programID: %w", err)
		}
	}
	return p, nil
}

func init() {
	pf := programFlags()
	postedVAAAddressCmd.Flags().AddFlagSet(pf)
	derivePDACmd.Flags().AddFlagSet(pf)

	DebugCmd.AddCommand(decodePayloadCmd)
	DebugCmd.AddCommand(encodePayloadCmd)
	DebugCmd.AddCommand(postedVAAAddressCmd)
	DebugCmd.AddCommand(derivePDACmd)
}
