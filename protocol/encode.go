package protocol

import "strconv"

// AppendValue appends the wire encoding of v to dst.
func AppendValue(dst []byte, v Value) []byte {
	switch v.Type {
	case TypeSimpleString, TypeError:
		dst = append(dst, byte(v.Type))
		dst = append(dst, v.Data...)
		return append(dst, CRLF...)
	case TypeInteger:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, v.Integer, 10)
		return append(dst, CRLF...)
	case TypeBulkString:
		if v.IsNull {
			return append(dst, "$-1\r\n"...)
		}
		return appendBulk(dst, v.Data)
	case TypeArray:
		if v.IsNull {
			return append(dst, "*-1\r\n"...)
		}
		dst = appendHeader(dst, '*', len(v.Array))
		for _, item := range v.Array {
			dst = AppendValue(dst, item)
		}
		return dst
	default:
		return dst
	}
}

// AppendCommand appends args encoded as a request: an array of bulk strings.
// This is also the record format of the append-only log and the replication
// stream.
func AppendCommand(dst []byte, args ...[]byte) []byte {
	dst = appendHeader(dst, '*', len(args))
	for _, arg := range args {
		dst = appendBulk(dst, arg)
	}
	return dst
}

// Encode returns the wire encoding of v.
func Encode(v Value) []byte {
	return AppendValue(nil, v)
}

// EncodeCommand returns args encoded as a request.
func EncodeCommand(args ...string) []byte {
	argv := make([][]byte, len(args))
	for i, arg := range args {
		argv[i] = []byte(arg)
	}
	return AppendCommand(nil, argv...)
}

func appendHeader(dst []byte, prefix byte, n int) []byte {
	dst = append(dst, prefix)
	dst = strconv.AppendInt(dst, int64(n), 10)
	return append(dst, CRLF...)
}

func appendBulk(dst []byte, data []byte) []byte {
	dst = appendHeader(dst, '$', len(data))
	dst = append(dst, data...)
	return append(dst, CRLF...)
}
