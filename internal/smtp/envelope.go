package smtp

// Envelope is the state of one mail transaction: the claimed sender, the
// accepted recipients in submission order, and the raw message bytes read
// from DATA. An envelope is handed to the gateway at most once and discarded
// when the transaction completes, resets, or aborts.
type Envelope struct {
	Sender     string
	Recipients []string
	Data       []byte
}
