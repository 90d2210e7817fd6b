package messenger

import (
	"errors"
	"fmt"
)

// Error is a terminal engine error. Each kind is a singleton so callers can match with errors.Is; the code is
// stable and numbered like the on-chain program's custom errors.
type Error struct {
	Code uint32
	Name string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Msg)
}

func newError(code uint32, name, msg string) *Error {
	return &Error{Code: code, Name: name, Msg: msg}
}

var (
	// Format
	ErrInvalidPayload         = newError(6000, "InvalidPayload", "payload is malformed or carries an unknown opcode")
	ErrInvalidEmitterAddress  = newError(6001, "InvalidEmitterAddress", "emitter address must be 64 hex characters")
	ErrInvalidInstructionData = newError(6002, "InvalidInstructionData", "staged instruction data cannot be decoded")
	ErrMissingAccount         = newError(6003, "MissingAccount", "account list is too short for this operation")
	ErrInvalidPostedVAA       = newError(6004, "InvalidPostedVAA", "account is not a posted VAA")

	// Authenticity
	ErrVAAKeyMismatch     = newError(6010, "VAAKeyMismatch", "posted VAA account does not match the message hash")
	ErrVAAEmitterMismatch = newError(6011, "VAAEmitterMismatch", "message was not sent by the registered emitter")

	// Authorization
	ErrInvalidSenderWallet        = newError(6020, "InvalidSenderWallet", "payload identity does not match the caller")
	ErrMintKeyMismatch            = newError(6021, "MintKeyMismatch", "mint does not match the stored message")
	ErrPdaSenderMismatch          = newError(6022, "PdaSenderMismatch", "caller is not the stored sender")
	ErrPdaReceiverMismatch        = newError(6023, "PdaReceiverMismatch", "caller is not the stored receiver")
	ErrSenderDerivedKeyMismatch   = newError(6024, "SenderDerivedKeyMismatch", "sender account is not derived from the sender identity")
	ErrReceiverDerivedKeyMismatch = newError(6025, "ReceiverDerivedKeyMismatch", "receiver account is not derived from the receiver identity")
	ErrDataAccountMismatch        = newError(6026, "DataAccountMismatch", "stream account does not match the stored message")
	ErrAmountMismatch             = newError(6027, "AmountMismatch", "amount does not match the stored message")
	ErrStartTimeMismatch          = newError(6028, "StartTimeMismatch", "start time does not match the stored message")
	ErrEndTimeMismatch            = newError(6029, "EndTimeMismatch", "end time does not match the stored message")
	ErrCanCancelMismatch          = newError(6030, "CanCancelMismatch", "can_cancel does not match the stored message")
	ErrCanUpdateMismatch          = newError(6031, "CanUpdateMismatch", "can_update does not match the stored message")
	ErrInvalidCaller              = newError(6032, "InvalidCaller", "caller is not the configured owner")

	// State
	ErrTransactionAlreadyCreated  = newError(6040, "TransactionAlreadyCreated", "action was already executed")
	ErrAlreadyExecuted            = newError(6041, "AlreadyExecuted", "transaction was already executed")
	ErrTransactionAlreadyExecuted = newError(6042, "TransactionAlreadyExecuted", "action was already executed")
	ErrAlreadyInitialized         = newError(6043, "AlreadyInitialized", "messenger is already initialized")
	ErrNotInitialized             = newError(6044, "NotInitialized", "messenger is not initialized")
	ErrTransactionNotFound        = newError(6045, "TransactionNotFound", "no transaction is staged at this account")
	ErrNoStoredMessage            = newError(6046, "NoStoredMessage", "no message is stored for this identity")
	ErrTransactionNotValidated    = newError(6047, "TransactionNotValidated", "staged transaction did not pass its checks")

	// Arithmetic
	ErrOverflow = newError(6050, "Overflow", "counter overflow")

	// Invocation
	ErrInvalidCPI = newError(6060, "InvalidCPI", "invocation failed")
)

// AsError returns the engine error err wraps, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
