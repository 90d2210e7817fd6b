package debug

import (
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/certusone/wormhole/messenger/pkg/bridge"
	"github.com/certusone/wormhole/messenger/pkg/common"
	"github.com/certusone/wormhole/messenger/pkg/pda"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

var postedVAAAddressCmd = &cobra.Command{
	Use:   "posted-vaa-address [VAA]",
	Short: "Print the Solana account a hex-encoded signed VAA is posted to",
	Run: func(cmd *cobra.Command, args []string) {
		p, err := programs()
		if err != nil {
			log.Fatal(err)
		}
		for _, arg := range args {
			addr, id, err := postedVAAAddress(p, arg)
			if err != nil {
				log.Fatal(err)
			}
			fmt.Printf("%s %s\n", id, addr)
		}
	},
}

var derivePDACmd = &cobra.Command{
	Use:   "derive-pda [IDENTITY] [CHAIN_ID]",
	Short: "Derive the messenger address for a remote identity",
	Long:  "Derive the messenger address for a remote identity. IDENTITY is the hex-encoded 32-byte wallet address and CHAIN_ID the Wormhole chain id it lives on.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		p, err := programs()
		if err != nil {
			log.Fatal(err)
		}
		d, err := derivePDA(p, args[0], args[1])
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("address: %s\nbump: %d\n", d.Address, d.Bump)
	},
}

// postedVAAAddress returns the posted message account for a signed VAA and the message id of its body.
func postedVAAAddress(p common.ProgramAddresses, data string) (solana.PublicKey, string, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return solana.PublicKey{}, "", err
	}
	v, err := vaa.Unmarshal(b)
	if err != nil {
		return solana.PublicKey{}, "", err
	}
	msg := bridge.FromVAA(v)
	addr, err := bridge.PostedVAAAddress(p.CoreBridge, msg.Hash())
	if err != nil {
		return solana.PublicKey{}, "", err
	}
	return addr, msg.MessageID(), nil
}

func derivePDA(p common.ProgramAddresses, identity, chain string) (pda.Derived, error) {
	id, err := vaa.StringToAddress(strings.TrimPrefix(identity, "0x"))
	if err != nil {
		return pda.Derived{}, fmt.Errorf("invalid identity: %w", err)
	}
	chainID, err := strconv.ParseUint(chain, 10, 16)
	if err != nil {
		return pda.Derived{}, fmt.Errorf("invalid chain id: %w", err)
	}
	return pda.Derive(p.Messenger, id, chainID)
}
