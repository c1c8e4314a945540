package executor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	xerrors "ChainPilot/internal/errors"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

var (
	customRevertPattern = regexp.MustCompile(`(?i)unable to decode signature|reverted with the following signature|unknown custom error|custom error`)
	selectorPattern     = regexp.MustCompile(`\b0x[0-9a-fA-F]{8}\b`)
)

// Error(string) 与 Panic(uint256) 可以解码，不视为自定义错误。
var standardRevertSelectors = map[string]struct{}{
	"0x08c379a0": {},
	"0x4e487b71": {},
}

// Diagnostic 是执行失败面向用户的展示形式。
type Diagnostic struct {
	Headline string
	Detail   string
	Selector string
	// Silent 表示调用方主动取消，不向用户展示。
	Silent bool
}

// Sanitize 对错误进行归类。无法解码的自定义合约回滚给出简短标题与排查清单，
// 其余错误保留原始文本。
func Sanitize(err error) Diagnostic {
	if err == nil {
		return Diagnostic{}
	}
	if xerrors.IsCancelled(err) {
		return Diagnostic{Silent: true}
	}

	text := rawText(err)
	dataText := revertData(err)
	if !customRevertPattern.MatchString(text) && !hasCustomSelector(dataText) {
		return Diagnostic{Headline: text}
	}

	selector := customSelector(text)
	if selector == "" {
		selector = dataSelector(dataText)
	}

	d := Diagnostic{
		Headline: "The contract rejected this transaction with a custom error.",
		Selector: selector,
	}
	var b strings.Builder
	b.WriteString("Things to check:\n")
	b.WriteString("- the wallet holds enough of the token and of the native coin for gas\n")
	b.WriteString("- the contract and token addresses belong to the selected network\n")
	b.WriteString("- the contract is not paused and the action is currently open\n")
	if selector != "" {
		fmt.Fprintf(&b, "Error selector %s can be looked up at https://openchain.xyz/signatures?query=%s", selector, selector)
	} else {
		b.WriteString("The revert carried no selector that could be identified.")
	}
	d.Detail = b.String()
	return d
}

// rawText 原样保留钱包返回的文本，其余错误去掉错误码前缀。
func rawText(err error) string {
	e, ok := err.(*xerrors.Error)
	if !ok {
		return err.Error()
	}
	cause := e.Unwrap()
	switch {
	case cause == nil:
		return e.Message()
	case e.Code() == xerrors.CodeSendFailed:
		return rawText(cause)
	default:
		return e.Message() + ": " + rawText(cause)
	}
}

func revertData(err error) string {
	var dataErr gethrpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch v := dataErr.ErrorData().(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func hasCustomSelector(data string) bool {
	return dataSelector(data) != ""
}

// dataSelector 读取回滚数据开头的选择器。
func dataSelector(data string) string {
	data = strings.TrimSpace(data)
	if len(data) < 10 || !strings.HasPrefix(data, "0x") {
		return ""
	}
	return customSelector(data[:10])
}

func customSelector(text string) string {
	for _, match := range selectorPattern.FindAllString(text, -1) {
		sel := strings.ToLower(match)
		if _, ok := standardRevertSelectors[sel]; ok {
			continue
		}
		return sel
	}
	return ""
}
