package storage

// MatchPattern reports whether str matches a glob pattern:
//
//   - any sequence, including empty
//     ?      any single byte
//     [abc]  one byte from the set; [a-z] ranges; [^...] negates
//     \x     x literally
//
// Unlike filepath.Match, '/' is an ordinary byte.
func MatchPattern(pattern, str string) bool {
	p, s := 0, 0
	// Position to resume from after the most recent '*'.
	starP, starS := -1, 0

	for s < len(str) {
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				starP, starS = p, s
				p++
				continue
			case '?':
				p++
				s++
				continue
			case '[':
				if ok, next := matchClass(pattern, p, str[s]); ok {
					p = next
					s++
					continue
				}
			case '\\':
				if p+1 < len(pattern) && pattern[p+1] == str[s] {
					p += 2
					s++
					continue
				}
			default:
				if pattern[p] == str[s] {
					p++
					s++
					continue
				}
			}
		}
		if starP < 0 {
			return false
		}
		starS++
		p, s = starP+1, starS
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchClass matches c against the bracket expression starting at
// pattern[start] == '['. It returns whether c matched and the index after
// the closing bracket. An unterminated class matches nothing.
func matchClass(pattern string, start int, c byte) (bool, int) {
	i := start + 1
	negate := false
	if i < len(pattern) && pattern[i] == '^' {
		negate = true
		i++
	}

	matched := false
	for i < len(pattern) && pattern[i] != ']' {
		lo := pattern[i]
		if lo == '\\' && i+1 < len(pattern) {
			i++
			lo = pattern[i]
		}
		if i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']' {
			hi := pattern[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			i += 3
			continue
		}
		if c == lo {
			matched = true
		}
		i++
	}
	if i >= len(pattern) {
		return false, start
	}
	return matched != negate, i + 1
}
