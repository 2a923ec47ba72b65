package island

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/island/internal/ir"
)

// EncodeMessage renders a message in wire form:
//
//	{receiver}.{part}.{selector}{JSON-args}
//
// The ordering key is not part of the payload; the reflector assigns it.
func EncodeMessage(reg *Registry, m Message) (string, error) {
	return encodeCall(reg, m.target, m.selector, m.args)
}

func encodeCall(reg *Registry, t Target, selector string, args []any) (string, error) {
	if err := validateAddress(t, selector); err != nil {
		return "", err
	}
	tc, err := reg.transcoder(t.Part, selector)
	if err != nil {
		return "", withAddress(err, t, selector)
	}
	encoded, err := tc.Encode(args)
	if err != nil {
		return "", withAddress(err, t, selector)
	}
	data, err := ir.MarshalCanonical(encoded)
	if err != nil {
		return "", withAddress(malformed("encode args: %v", err), t, selector)
	}

	var b strings.Builder
	b.Grow(len(t.Receiver) + len(t.Part) + len(selector) + len(data) + 2)
	b.WriteString(t.Receiver)
	b.WriteByte('.')
	b.WriteString(t.Part)
	b.WriteByte('.')
	b.WriteString(selector)
	b.Write(data)
	return b.String(), nil
}

// DecodeMessage parses a wire payload. The returned message has a zero key.
func DecodeMessage(reg *Registry, payload string) (Message, error) {
	receiver, rest, ok := strings.Cut(payload, ".")
	if !ok {
		return Message{}, malformed("payload %q has no receiver separator", payload)
	}
	part, rest, ok := strings.Cut(rest, ".")
	if !ok {
		return Message{}, malformed("payload %q has no part separator", payload)
	}
	idx := strings.IndexByte(rest, '[')
	if idx < 0 {
		return Message{}, malformed("payload %q has no argument list", payload)
	}
	selector := rest[:idx]
	t := Target{Receiver: receiver, Part: part}
	if err := validateAddress(t, selector); err != nil {
		return Message{}, err
	}

	var raw ir.IRArray
	if err := raw.UnmarshalJSON([]byte(rest[idx:])); err != nil {
		return Message{}, withAddress(malformed("decode args: %v", err), t, selector)
	}
	tc, err := reg.transcoder(part, selector)
	if err != nil {
		return Message{}, withAddress(err, t, selector)
	}
	args, err := tc.Decode(raw)
	if err != nil {
		return Message{}, withAddress(err, t, selector)
	}
	return NewMessage(0, 0, t, selector, args...), nil
}

func validateAddress(t Target, selector string) error {
	if t.Receiver == "" || strings.ContainsAny(t.Receiver, "./[") {
		return malformed("invalid receiver %q", t.Receiver)
	}
	if strings.ContainsAny(t.Part, ".[") || strings.HasPrefix(t.Part, "/") || strings.HasSuffix(t.Part, "/") {
		return malformed("invalid part path %q", t.Part)
	}
	if selector == "" || strings.ContainsAny(selector, "./[") {
		return malformed("invalid selector %q", selector)
	}
	return nil
}

// withAddress fills in receiver and selector on island errors.
func withAddress(err error, t Target, selector string) error {
	ie, ok := err.(*Error)
	if !ok {
		return fmt.Errorf("%s.%s: %w", t, selector, err)
	}
	out := *ie
	if out.Receiver == "" {
		out.Receiver = t.Receiver
	}
	if out.Selector == "" {
		out.Selector = selector
	}
	if t.Part != "" {
		details := make(map[string]string, len(out.Details)+1)
		for k, v := range out.Details {
			details[k] = v
		}
		details["part"] = t.Part
		out.Details = details
	}
	return &out
}

func itoa(i int) string { return strconv.Itoa(i) }

func typeName(v any) string { return fmt.Sprintf("%T", v) }
