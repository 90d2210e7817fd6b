package debug

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/certusone/wormhole/messenger/pkg/payload"
	"github.com/spf13/cobra"
)

var decodePayloadCmd = &cobra.Command{
	Use:   "decode-payload [DATA]",
	Short: "Decode a hex-encoded messenger payload to JSON",
	Run: func(cmd *cobra.Command, args []string) {
		for _, arg := range args {
			out, err := decodePayload(arg)
			if err != nil {
				log.Fatal(err)
			}
			fmt.Println(string(out))
		}
	},
}

var encodePayloadCmd = &cobra.Command{
	Use:   "encode-payload [OPCODE] [JSON]",
	Short: "Encode a JSON payload body as hex",
	Long:  "Encode a JSON payload body as hex. OPCODE is the payload name as printed by decode-payload, e.g. deposit or stream_update.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		out, err := encodePayload(args[0], []byte(args[1]))
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(out)
	},
}

type decodedPayload struct {
	Opcode  string          `json:"opcode"`
	Payload payload.Payload `json:"payload"`
}

func decodePayload(data string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, err
	}
	p, err := payload.Decode(b)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(decodedPayload{Opcode: p.Opcode().String(), Payload: p}, "", "  ")
}

var payloadTypes = map[string]func() payload.Payload{
	payload.OpDeposit.String():         func() payload.Payload { return &payload.Deposit{} },
	payload.OpStream.String():          func() payload.Payload { return &payload.Stream{} },
	payload.OpStreamUpdate.String():    func() payload.Payload { return &payload.StreamUpdate{} },
	payload.OpPause.String():           func() payload.Payload { return &payload.Pause{} },
	payload.OpWithdrawStream.String():  func() payload.Payload { return &payload.WithdrawStream{} },
	payload.OpCancelStream.String():    func() payload.Payload { return &payload.CancelStream{} },
	payload.OpWithdraw.String():        func() payload.Payload { return &payload.Withdraw{} },
	payload.OpInstantTransfer.String(): func() payload.Payload { return &payload.InstantTransfer{} },
	payload.OpDirectTransfer.String():  func() payload.Payload { return &payload.DirectTransfer{} },
}

func encodePayload(opcode string, body []byte) (string, error) {
	newPayload, ok := payloadTypes[opcode]
	if !ok {
		return "", fmt.Errorf("unknown opcode %q", opcode)
	}
	p := newPayload()
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return "", err
	}
	return hex.EncodeToString(p.Serialize()), nil
}
