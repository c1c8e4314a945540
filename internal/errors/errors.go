package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Kind 将错误码归入面向调用方的错误类别。
type Kind string

const (
	KindTransport Kind = "TransportError"
	KindProtocol  Kind = "ProtocolError"
	KindRPC       Kind = "RpcError"
	KindCodec     Kind = "CodecError"
	KindPreflight Kind = "PreflightError"
	KindExecution Kind = "ExecutionError"
	KindCancelled Kind = "Cancelled"
	KindInternal  Kind = "InternalError"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message string
	Kind    Kind
	// Terminal 表示该错误会结束当前操作且不应自动重试。
	Terminal bool
	// Silent 表示该错误不需要展示给用户。
	Silent bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"

	CodeTransport Code = "TRANSPORT_ERROR"

	CodeBadPlanEvent Code = "BAD_PLAN_EVENT"
	CodeStreamError  Code = "ERROR"

	CodeAllEndpointsFailed Code = "ALL_ENDPOINTS_FAILED"
	CodeMalformedRPCResult Code = "MALFORMED_RPC_RESULT"

	CodeMalformedCalldata Code = "MALFORMED_CALLDATA"
	CodeInvalidAddress    Code = "INVALID_ADDRESS"
	CodeInvalidAmount     Code = "INVALID_AMOUNT"

	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientAllowance Code = "INSUFFICIENT_ALLOWANCE"
	CodeNoTransactions        Code = "NO_TRANSACTIONS"

	CodeChainSwitchFailed    Code = "CHAIN_SWITCH_FAILED"
	CodeUnexpectedSendResult Code = "UNEXPECTED_SEND_RESULT"
	CodeTransactionReverted  Code = "TRANSACTION_REVERTED"
	CodeReceiptTimeout       Code = "RECEIPT_TIMEOUT"
	CodeSendFailed           Code = "SEND_FAILED"

	CodeCancelled Code = "CANCELLED"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Kind: KindInternal},
		CodeInvalidArgument:       {Message: "invalid argument", Kind: KindInternal, Terminal: true},
		CodeInitializationFailure: {Message: "component not initialized", Kind: KindInternal, Terminal: true},
		CodeStorageFailure:        {Message: "storage failure", Kind: KindInternal},

		CodeTransport: {Message: "stream transport failed", Kind: KindTransport, Terminal: true},

		CodeBadPlanEvent: {Message: "Could not parse plan payload", Kind: KindProtocol},
		CodeStreamError:  {Message: "stream reported an error", Kind: KindProtocol},

		CodeAllEndpointsFailed: {Message: "all rpc endpoints failed", Kind: KindRPC},
		CodeMalformedRPCResult: {Message: "malformed rpc result", Kind: KindRPC},

		CodeMalformedCalldata: {Message: "malformed calldata", Kind: KindCodec, Terminal: true},
		CodeInvalidAddress:    {Message: "invalid address", Kind: KindCodec, Terminal: true},
		CodeInvalidAmount:     {Message: "invalid amount", Kind: KindCodec, Terminal: true},

		CodeInsufficientBalance:   {Message: "insufficient token balance", Kind: KindPreflight, Terminal: true},
		CodeInsufficientAllowance: {Message: "insufficient token allowance", Kind: KindPreflight, Terminal: true},
		CodeNoTransactions:        {Message: "plan contains no transactions", Kind: KindPreflight, Terminal: true},

		CodeChainSwitchFailed:    {Message: "wallet could not switch network", Kind: KindExecution, Terminal: true},
		CodeUnexpectedSendResult: {Message: "wallet returned no transaction hash", Kind: KindExecution, Terminal: true},
		CodeTransactionReverted:  {Message: "transaction reverted", Kind: KindExecution, Terminal: true},
		CodeReceiptTimeout:       {Message: "timed out waiting for confirmation", Kind: KindExecution, Terminal: true},
		CodeSendFailed:           {Message: "wallet rejected the transaction", Kind: KindExecution, Terminal: true},

		CodeCancelled: {Message: "operation cancelled", Kind: KindCancelled, Terminal: true, Silent: true},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.code, e.message)
	if len(e.metadata) > 0 {
		keys := make([]string, 0, len(e.metadata))
		for k := range e.metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.metadata[k])
		}
		b.WriteString(")")
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Kind 返回错误码所属类别。
func (e *Error) Kind() Kind {
	if e == nil {
		return KindInternal
	}
	return AttributesOf(e.code).Kind
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Meta 返回单个附加字段。
func (e *Error) Meta(key string) string {
	if e == nil {
		return ""
	}
	return e.metadata[key]
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if IsCancelled(err) {
		return CodeCancelled
	}
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// KindOf 返回错误类别。
func KindOf(err error) Kind {
	return AttributesOf(CodeOf(err)).Kind
}

// IsCancelled 判断错误是否来自用户取消。
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, context.Canceled) {
		return true
	}
	if e, ok := From(err); ok {
		return e.Code() == CodeCancelled
	}
	return false
}

// Cancelled 将上下文错误转换为统一的取消错误。
func Cancelled(cause error) *Error {
	return Wrap(CodeCancelled, cause, "")
}

// Silent 判断错误是否无需展示给用户。
func Silent(err error) bool {
	return err != nil && AttributesOf(CodeOf(err)).Silent
}
