// Package bpath canonicalizes paths built from ustr.Ustr components,
// resolving "." and ".." components without touching the filesystem —
// the VFS (out of this core's scope, see DESIGN.md) is responsible for
// resolving the result against actual directory entries.
package bpath

import "ustr"

/// Canonicalize resolves "." and ".." components in an absolute path,
/// collapsing repeated slashes. p must be absolute; the result is always
/// absolute and never contains a trailing slash unless it is the root.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	if !p.IsAbsolute() {
		panic("bpath: path must be absolute")
	}
	parts := split(p)
	stack := make([]ustr.Ustr, 0, len(parts))
	for _, part := range parts {
		switch {
		case len(part) == 0:
			continue
		case part.Isdot():
			continue
		case part.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	if len(stack) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.Ustr{'/'}
	for i, part := range stack {
		if i > 0 {
			ret = append(ret, '/')
		}
		ret = append(ret, part...)
	}
	return ret
}

// split breaks p on '/' boundaries without allocating a new copy per
// component; empty components (from leading/repeated slashes) are
// filtered by the caller.
func split(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
