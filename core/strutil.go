package core

// itoa converts an integer to a string without using fmt package
// int is 16 bits on AVR, so callers holding wider values use utoa64.
func itoa(n int) string {
	if n < 0 {
		return "-" + utoa64(uint64(-int64(n)))
	}
	return utoa64(uint64(n))
}

// utoa converts an unsigned 32-bit integer to a string
func utoa(n uint32) string {
	return utoa64(uint64(n))
}

// utoa64 converts an unsigned integer to a string, building it right to left
// in a fixed buffer to avoid allocations beyond the result
func utoa64(n uint64) string {
	if n == 0 {
		return "0"
	}

	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

// valueToString converts a value to string representation
// Handles the most common types used in constants
func valueToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return itoa(val)
	case int32:
		if val < 0 {
			return "-" + utoa64(uint64(-int64(val)))
		}
		return utoa64(uint64(val))
	case uint:
		return utoa64(uint64(val))
	case uint8:
		return utoa64(uint64(val))
	case uint16:
		return utoa64(uint64(val))
	case uint32:
		return utoa(val)
	case uint64:
		return utoa64(val)
	default:
		// Fallback for unknown types - return empty string
		return ""
	}
}
