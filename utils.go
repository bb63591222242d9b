package raft

import "errors"

var (
	errNodeUnknown    = errors.New("raft: node is not known")
	errNoSendCallback = errors.New("raft: no send callback installed")
	errApplyBlocked   = errors.New("raft: no entry ready to apply")
)

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
