package wdg

import (
	"math/bits"

	"faultcore/internal/common"
	"faultcore/internal/diag"
	"faultcore/internal/hw"
)

// CheckSeed seeds the cross-reset checksum.
const CheckSeed uint32 = 0xBAADCEED

// CrossResetWords is the size of the retained block: magic, consecutive
// failed init counter and checksum.
const CrossResetWords = 3

const (
	wordMagic = iota
	wordCounter
	wordCheck
)

// CrossResetState is the only state the core keeps across a reset. It lives
// in RAM that startup code does not zero, so it must be validated before use.
type CrossResetState struct {
	words []uint32
}

// NewCrossResetState wraps the retained region. No validation is done here.
func NewCrossResetState(mem hw.RetainedMemory) (*CrossResetState, error) {
	if mem == nil || len(mem.Words()) < CrossResetWords {
		return nil, common.Errorf(diag.ErrArg, "retained region needs %d words", CrossResetWords)
	}
	return &CrossResetState{words: mem.Words()[:CrossResetWords]}, nil
}

// Checksum folds every word but the checksum itself: rotate left one bit,
// then xor the next word.
func (s *CrossResetState) Checksum() uint32 {
	check := CheckSeed
	for _, w := range s.words[:wordCheck] {
		check = bits.RotateLeft32(check, 1) ^ w
	}
	return check
}

// Validate checks magic and checksum. On mismatch the block is reset to the
// magic, a zero counter and a matching checksum, and false is returned.
func (s *CrossResetState) Validate() bool {
	if s.words[wordMagic] == diag.MagicRetained && s.words[wordCheck] == s.Checksum() {
		return true
	}
	s.words[wordMagic] = diag.MagicRetained
	s.words[wordCounter] = 0
	s.Update()
	return false
}

// Update recomputes the checksum after a change.
func (s *CrossResetState) Update() {
	s.words[wordCheck] = s.Checksum()
}

func (s *CrossResetState) Magic() uint32   { return s.words[wordMagic] }
func (s *CrossResetState) Counter() uint32 { return s.words[wordCounter] }
func (s *CrossResetState) Check() uint32   { return s.words[wordCheck] }

// SetCounter stores the consecutive failed init counter and updates the checksum.
func (s *CrossResetState) SetCounter(v uint32) {
	s.words[wordCounter] = v
	s.Update()
}
