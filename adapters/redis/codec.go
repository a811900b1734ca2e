package redis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// 串流訊息中存放資料的欄位名稱
const payloadField = "payload"

var (
	ErrPointerType    = errors.New("pointer type is not allowed")
	ErrMissingPayload = errors.New("payload field not found or invalid type")
)

// EncodeMessage 將資料以 msgpack 序列化並 base64 編碼，放入串流訊息的 payload 欄位
func EncodeMessage[T any](data T) (map[string]any, error) {
	if reflect.TypeOf(data).Kind() == reflect.Ptr {
		return nil, ErrPointerType
	}

	raw, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}

	return map[string]any{
		payloadField: base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// DecodeMessage 是 EncodeMessage 的反向操作
func DecodeMessage[T any](message map[string]any) (T, error) {
	var result T

	if reflect.TypeOf(result).Kind() == reflect.Ptr {
		return result, ErrPointerType
	}

	var encoded string
	switch v := message[payloadField].(type) {
	case string:
		encoded = v
	case []byte:
		encoded = string(v)
	default:
		return result, ErrMissingPayload
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return result, fmt.Errorf("base64 decode error: %w", err)
	}

	if err := msgpack.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("msgpack unmarshal error: %w", err)
	}

	return result, nil
}
