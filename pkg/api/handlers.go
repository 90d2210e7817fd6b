package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/certusone/wormhole/messenger/pkg/messenger"
	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

type initializeRequest struct {
	Owner solana.PublicKey `json:"owner"`
}

type registerChainRequest struct {
	Caller      solana.PublicKey `json:"caller"`
	ChainID     vaa.ChainID      `json:"chainId"`
	EmitterAddr string           `json:"emitterAddr"`
}

type storeMsgRequest struct {
	PostedVAA    solana.PublicKey `json:"postedVaa"`
	Sender       vaa.Address      `json:"sender"`
	CurrentCount uint8            `json:"currentCount"`
}

type storeMsgResponse struct {
	Opcode    string `json:"opcode"`
	MessageID string `json:"messageId"`
	TxnCount  uint64 `json:"txnCount"`
}

type transactionAccount struct {
	Pubkey     solana.PublicKey `json:"pubkey"`
	IsSigner   bool             `json:"isSigner"`
	IsWritable bool             `json:"isWritable"`
}

type stageRequest struct {
	Transaction solana.PublicKey     `json:"transaction"`
	Status      solana.PublicKey     `json:"status"`
	ProgramID   solana.PublicKey     `json:"programId"`
	Accounts    []transactionAccount `json:"accounts"`
	// Data is base64 in JSON.
	Data   []byte      `json:"data"`
	Sender vaa.Address `json:"sender"`
}

type executeRequest struct {
	Transaction solana.PublicKey `json:"transaction"`
	Status      solana.PublicKey `json:"status"`
	Sender      vaa.Address      `json:"sender"`
	FromChainID vaa.ChainID      `json:"fromChainId"`
}

type directTransferRequest struct {
	Status        solana.PublicKey `json:"status"`
	Sender        vaa.Address      `json:"sender"`
	TargetChain   vaa.ChainID      `json:"targetChain"`
	Fee           uint64           `json:"fee"`
	Payer         solana.PublicKey `json:"payer"`
	PdaSigner     solana.PublicKey `json:"pdaSigner"`
	From          solana.PublicKey `json:"from"`
	Mint          solana.PublicKey `json:"mint"`
	PortalMessage solana.PublicKey `json:"portalMessage"`
	WrappedMeta   solana.PublicKey `json:"wrappedMeta"`
}

type stageFunc func(ctx context.Context, req messenger.TransactionRequest) error

func (s *Server) stageOperations() map[string]stageFunc {
	return map[string]stageFunc{
		"deposit":           s.engine.TransactionDeposit,
		"stream":            s.engine.CreateTransactionStream,
		"stream_update":     s.engine.TransactionStreamUpdate,
		"pause_resume":      s.engine.TransactionPauseResume,
		"receiver_withdraw": s.engine.CreateTransactionReceiverWithdraw,
		"cancel":            s.engine.CreateTransactionCancel,
		"sender_withdraw":   s.engine.CreateTransactionSenderWithdraw,
		"instant_transfer":  s.engine.CreateTransactionInstantTransfer,
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	body, err := decodeSigned(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := verifySignature(r, req.Owner, body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.Initialize(r.Context(), req.Owner); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, nil)
}

func (s *Server) handleRegisterChain(w http.ResponseWriter, r *http.Request) {
	var req registerChainRequest
	body, err := decodeSigned(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := verifySignature(r, req.Caller, body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.RegisterChain(r.Context(), req.Caller, req.ChainID, req.EmitterAddr); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, nil)
}

func (s *Server) handleEmitters(w http.ResponseWriter, r *http.Request) {
	emitters, err := s.engine.Emitters()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, emitters)
}

func (s *Server) handleStoreMsg(w http.ResponseWriter, r *http.Request) {
	var req storeMsgRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.StoreMsg(r.Context(), messenger.StoreMsgRequest{
		PostedVAA:    req.PostedVAA,
		Sender:       req.Sender,
		CurrentCount: req.CurrentCount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, storeMsgResponse{Opcode: res.Opcode.String(), MessageID: res.MessageID, TxnCount: res.TxnCount})
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["operation"]
	stage, ok := s.stageOperations()[name]
	if !ok {
		s.writeJSON(w, r, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("unknown operation %q", name)})
		return
	}

	var req stageRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	accounts := make([]messenger.TransactionAccount, 0, len(req.Accounts))
	for _, a := range req.Accounts {
		accounts = append(accounts, messenger.TransactionAccount{Pubkey: a.Pubkey, IsSigner: a.IsSigner, IsWritable: a.IsWritable})
	}

	err := stage(r.Context(), messenger.TransactionRequest{
		Transaction: req.Transaction,
		Status:      req.Status,
		ProgramID:   req.ProgramID,
		Accounts:    accounts,
		Data:        req.Data,
		Sender:      req.Sender,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, nil)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.engine.ExecuteTransaction(r.Context(), messenger.ExecuteRequest{
		Transaction: req.Transaction,
		Status:      req.Status,
		Sender:      req.Sender,
		FromChainID: req.FromChainID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, nil)
}

func (s *Server) handleDirectTransfer(w http.ResponseWriter, r *http.Request) {
	var req directTransferRequest
	body, err := decodeSigned(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := verifySignature(r, req.Payer, body); err != nil {
		s.writeError(w, r, err)
		return
	}

	transfer := s.engine.TransactionDirectTransferNative
	if mux.Vars(r)["kind"] == "wrapped" {
		transfer = s.engine.TransactionDirectTransferWrapped
	}
	err = transfer(r.Context(), messenger.DirectTransferRequest{
		Status:        req.Status,
		Sender:        req.Sender,
		TargetChain:   req.TargetChain,
		Fee:           req.Fee,
		Payer:         req.Payer,
		PdaSigner:     req.PdaSigner,
		From:          req.From,
		Mint:          req.Mint,
		PortalMessage: req.PortalMessage,
		WrappedMeta:   req.WrappedMeta,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, nil)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Config()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, cfg)
}

func (s *Server) handleTxnCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.engine.TxnCount()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]uint64{"count": count})
}

func (s *Server) handleDataStorage(w http.ResponseWriter, r *http.Request) {
	identity, err := vaa.StringToAddress(mux.Vars(r)["identity"])
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: identity: %v", errBadRequest, err))
		return
	}
	storage, err := s.engine.DataStorage(identity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, storage)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	account, err := pathKey(r, "account")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.engine.Transaction(account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, tx)
}

func (s *Server) handleTxnStatus(w http.ResponseWriter, r *http.Request) {
	account, err := pathKey(r, "account")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.engine.TxnStatus(account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, status)
}

func (s *Server) handleOutboxList(w http.ResponseWriter, r *http.Request) {
	if s.outbox == nil {
		s.writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "outbox is disabled"})
		return
	}

	after, limit := uint64(0), defaultPageSize
	var err error
	if v := r.URL.Query().Get("after"); v != "" {
		if after, err = strconv.ParseUint(v, 10, 64); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: after: %v", errBadRequest, err))
			return
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
	}

	entries, err := s.outbox.List(after, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, entries)
}

func (s *Server) handleOutboxAck(w http.ResponseWriter, r *http.Request) {
	if s.outbox == nil {
		s.writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "outbox is disabled"})
		return
	}
	seq, err := strconv.ParseUint(mux.Vars(r)["seq"], 10, 64)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: seq: %v", errBadRequest, err))
		return
	}
	cfg, err := s.engine.Config()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := verifySignature(r, cfg.Owner, pathMessage(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.outbox.Ack(seq); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, nil)
}

// Compile-time check that the engine satisfies the API.
var _ Engine = (*messenger.Messenger)(nil)
