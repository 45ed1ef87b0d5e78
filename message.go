package exchange

import (
	"maps"
	"reflect"
)

// Message is the payload carried by an exchange: a body plus headers.
type Message struct {
	id      string
	body    any
	headers map[string]any
}

// NewMessage creates a message with the given body and no id.
func NewMessage(body any) *Message {
	return &Message{body: body, headers: make(map[string]any)}
}

// NewMessageWithID creates a message with an explicit message id.
func NewMessageWithID(id string, body any) *Message {
	m := NewMessage(body)
	m.id = id
	return m
}

func (m *Message) MessageID() string        { return m.id }
func (m *Message) SetMessageID(id string)   { m.id = id }
func (m *Message) Body() any                { return m.body }
func (m *Message) SetBody(body any)         { m.body = body }
func (m *Message) HasHeaders() bool         { return len(m.headers) > 0 }
func (m *Message) RemoveHeader(name string) { delete(m.headers, name) }

func (m *Message) SetHeader(name string, value any) {
	if m.headers == nil {
		m.headers = make(map[string]any)
	}
	m.headers[name] = value
}

func (m *Message) Header(name string) (any, bool) {
	v, ok := m.headers[name]
	return v, ok
}

// Headers returns a copy of the header map. It is never nil.
func (m *Message) Headers() map[string]any {
	out := make(map[string]any, len(m.headers))
	maps.Copy(out, m.headers)
	return out
}

// Copy returns a message with its own header map. The body is shared.
func (m *Message) Copy() *Message {
	if m == nil {
		return nil
	}
	return &Message{id: m.id, body: m.body, headers: m.Headers()}
}

// TypeConverter converts values between types. Its registry lives outside this module.
type TypeConverter interface {
	Convert(value any, target reflect.Type, ex *Exchange) (any, error)
}

// ConverterFunc adapts a plain function to TypeConverter.
type ConverterFunc func(value any, target reflect.Type, ex *Exchange) (any, error)

func (f ConverterFunc) Convert(value any, target reflect.Type, ex *Exchange) (any, error) {
	return f(value, target, ex)
}

// BodyAs returns the body of m as T, converting through conv when the body is
// not already a T. A nil conv only allows the direct case.
func BodyAs[T any](ex *Exchange, m *Message, conv TypeConverter) (T, error) {
	var zero T
	target := reflect.TypeOf((*T)(nil)).Elem()
	if m == nil {
		return zero, NewConversionError(nil, target, nil)
	}
	if v, ok := m.body.(T); ok {
		return v, nil
	}
	if conv == nil {
		return zero, NewConversionError(m.body, target, nil)
	}
	out, err := conv.Convert(m.body, target, ex)
	if err != nil {
		if IsConversion(err) {
			return zero, err
		}
		return zero, NewConversionError(m.body, target, err)
	}
	v, ok := out.(T)
	if !ok {
		return zero, NewConversionError(out, target, nil)
	}
	return v, nil
}
