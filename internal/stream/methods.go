package stream

import (
	"github.com/goccy/go-json"
)

// Commitment is the confirmation level a node waits for before notifying.
type Commitment string

const (
	Processed Commitment = "processed"
	Confirmed Commitment = "confirmed"
	Finalized Commitment = "finalized"
)

// Encoding selects how account data is returned.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
	EncodingJSONParsed Encoding = "jsonParsed"
)

// Option configures the subscribe parameters of a per-method stream.
type Option func(*subscribeConfig)

// subscribeConfig is the trailing configuration object of a subscribe request.
type subscribeConfig struct {
	Commitment                 Commitment `json:"commitment,omitempty"`
	Encoding                   Encoding   `json:"encoding,omitempty"`
	Filters                    []any      `json:"filters,omitempty"`
	EnableReceivedNotification *bool      `json:"enableReceivedNotification,omitempty"`

	streamOpts []StreamOption
}

func (c subscribeConfig) empty() bool {
	return c.Commitment == "" && c.Encoding == "" && len(c.Filters) == 0 && c.EnableReceivedNotification == nil
}

func buildConfig(opts []Option) subscribeConfig {
	var c subscribeConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// params returns [leading..., config], omitting an empty config.
func (c subscribeConfig) params(leading ...any) []any {
	out := append([]any{}, leading...)
	if !c.empty() {
		out = append(out, c)
	}
	return out
}

// WithCommitment sets the commitment level.
func WithCommitment(c Commitment) Option {
	return func(cfg *subscribeConfig) {
		cfg.Commitment = c
	}
}

// WithEncoding sets the account data encoding.
func WithEncoding(e Encoding) Option {
	return func(cfg *subscribeConfig) {
		cfg.Encoding = e
	}
}

// WithFilters sets program account filters (memcmp, dataSize).
func WithFilters(filters ...any) Option {
	return func(cfg *subscribeConfig) {
		cfg.Filters = append(cfg.Filters, filters...)
	}
}

// WithReceivedNotification asks for a notification when a signature is
// received, before it reaches the requested commitment.
func WithReceivedNotification(enabled bool) Option {
	return func(cfg *subscribeConfig) {
		cfg.EnableReceivedNotification = &enabled
	}
}

// WithStreamOptions passes options to the underlying Stream.
func WithStreamOptions(opts ...StreamOption) Option {
	return func(cfg *subscribeConfig) {
		cfg.streamOpts = append(cfg.streamOpts, opts...)
	}
}

// Context carries the slot a notification was produced at.
type Context struct {
	Slot uint64 `json:"slot"`
}

// SlotInfo is a slotSubscribe notification.
type SlotInfo struct {
	Parent uint64 `json:"parent"`
	Root   uint64 `json:"root"`
	Slot   uint64 `json:"slot"`
}

// Root is a rootSubscribe notification: the latest rooted slot.
type Root uint64

// AccountInfo is the state of one account. Data is left in its wire encoding.
type AccountInfo struct {
	Lamports   uint64          `json:"lamports"`
	Owner      string          `json:"owner"`
	Data       json.RawMessage `json:"data"`
	Executable bool            `json:"executable"`
	RentEpoch  uint64          `json:"rentEpoch"`
	Space      uint64          `json:"space"`
}

// AccountNotification is an accountSubscribe notification.
type AccountNotification struct {
	Context Context     `json:"context"`
	Value   AccountInfo `json:"value"`
}

// KeyedAccount is an account together with its address.
type KeyedAccount struct {
	Pubkey  string      `json:"pubkey"`
	Account AccountInfo `json:"account"`
}

// ProgramNotification is a programSubscribe notification.
type ProgramNotification struct {
	Context Context      `json:"context"`
	Value   KeyedAccount `json:"value"`
}

// SignatureStatus is the value of a signature notification: either the
// "receivedSignature" marker or a processed result with an optional error.
type SignatureStatus struct {
	Received bool
	Err      json.RawMessage
}

func (s *SignatureStatus) UnmarshalJSON(data []byte) error {
	var marker string
	if err := json.Unmarshal(data, &marker); err == nil {
		s.Received = marker == "receivedSignature"
		return nil
	}

	var processed struct {
		Err json.RawMessage `json:"err"`
	}
	if err := json.Unmarshal(data, &processed); err != nil {
		return err
	}
	if string(processed.Err) != "null" {
		s.Err = processed.Err
	}
	return nil
}

// SignatureNotification is a signatureSubscribe notification.
type SignatureNotification struct {
	Context Context         `json:"context"`
	Value   SignatureStatus `json:"value"`
}

// Failed reports whether the transaction was processed with an error.
func (n SignatureNotification) Failed() bool {
	return len(n.Value.Err) > 0
}

// LogsResult is the value of a logs notification.
type LogsResult struct {
	Signature string          `json:"signature"`
	Err       json.RawMessage `json:"err"`
	Logs      []string        `json:"logs"`
}

// LogsNotification is a logsSubscribe notification.
type LogsNotification struct {
	Context Context    `json:"context"`
	Value   LogsResult `json:"value"`
}

// LogsFilter selects which transactions' logs are streamed.
type LogsFilter any

// LogsAll streams logs of all transactions except simple votes.
func LogsAll() LogsFilter { return "all" }

// LogsAllWithVotes streams logs of all transactions including votes.
func LogsAllWithVotes() LogsFilter { return "allWithVotes" }

// LogsMentions streams logs of transactions mentioning pubkey.
func LogsMentions(pubkey string) LogsFilter {
	return map[string][]string{"mentions": {pubkey}}
}

// Account streams changes to one account.
func Account(src Source, pubkey string, opts ...Option) *Stream[AccountNotification] {
	cfg := buildConfig(opts)
	return newStream(src, "accountSubscribe", cfg.params(pubkey), decodeJSON[AccountNotification], nil, cfg.streamOpts)
}

// Program streams changes to accounts owned by a program.
func Program(src Source, programID string, opts ...Option) *Stream[ProgramNotification] {
	cfg := buildConfig(opts)
	return newStream(src, "programSubscribe", cfg.params(programID), decodeJSON[ProgramNotification], nil, cfg.streamOpts)
}

// Signature streams the status of one transaction signature. The stream
// ends by itself after the first notification that is not a
// receivedSignature marker.
func Signature(src Source, signature string, opts ...Option) *Stream[SignatureNotification] {
	cfg := buildConfig(opts)
	final := func(n SignatureNotification) bool { return !n.Value.Received }
	return newStream(src, "signatureSubscribe", cfg.params(signature), decodeJSON[SignatureNotification], final, cfg.streamOpts)
}

// Slot streams every slot the node processes.
func Slot(src Source, opts ...Option) *Stream[SlotInfo] {
	cfg := buildConfig(opts)
	return newStream(src, "slotSubscribe", []any{}, decodeJSON[SlotInfo], nil, cfg.streamOpts)
}

// RootSlots streams every new root.
func RootSlots(src Source, opts ...Option) *Stream[Root] {
	cfg := buildConfig(opts)
	return newStream(src, "rootSubscribe", []any{}, decodeJSON[Root], nil, cfg.streamOpts)
}

// Logs streams transaction logs matching filter.
func Logs(src Source, filter LogsFilter, opts ...Option) *Stream[LogsNotification] {
	cfg := buildConfig(opts)
	return newStream(src, "logsSubscribe", cfg.params(filter), decodeJSON[LogsNotification], nil, cfg.streamOpts)
}
